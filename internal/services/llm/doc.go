// Package llm provides an OpenAI-compatible chat completion client.
//
// The client posts a system prompt and a user message to the configured
// endpoint (OpenRouter by default) and returns the text of the first
// non-empty choice. User content may be a plain string or a list of parts
// when images or extra text attachments ride along.
//
// # Retry Behaviour
//
// HTTP 408/429/5xx responses, network timeouts and empty or refused
// completions are retried with a fixed delay (2s, 3 attempts by default).
// Retry-After headers are honoured up to the configured ceiling. Other 4xx
// responses fail immediately. Context cancellation aborts retries.
//
// Callers classify failures with errors.As against *StatusError and
// *EmptyContentError.
package llm
