// Package analysis is the boundary between the pipeline and the external LLM.
//
// Analyzer is the narrow interface the map-reduce executor and the stage
// controller depend on. Service is the production implementation: it renders
// the prompt template, resolves the credential, counts usage, enforces an
// optional per-credential rate limit and classifies failures into
// transient, fatal and blocked.
package analysis

import "context"

// Request describes one analysis call.
type Request struct {
	SourceID string
	// Worker names the map task or stage issuing the call, for logging.
	Worker string
	Model  string
	// PromptFile is read on every call so prompt edits apply without restart.
	PromptFile string
	// Prompt is an inline template used when PromptFile is empty.
	Prompt string
	// Credential is a literal API key or a "profile:<alias>" reference. Empty
	// falls back to llm.default_profile.
	Credential   string
	Content      string
	BonusContext string
	// Attachments are files sent alongside the prompt.
	Attachments []string
}

// Analyzer turns a prompt and content into model output text.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Analyzer.
type Func func(ctx context.Context, req Request) (string, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
