package analysis

import (
	"errors"
	"fmt"

	"logsentinel/internal/services"
)

// Kind classifies an analysis failure.
type Kind string

const (
	// KindTransient failures (network, 408/429/5xx, timeouts) may clear on retry.
	KindTransient Kind = "transient"
	// KindFatal failures (bad credential, missing prompt, other 4xx) will not.
	KindFatal Kind = "fatal"
	// KindBlocked responses came back empty or refused.
	KindBlocked Kind = "blocked"
)

// Failure is the error type returned by analyzers.
type Failure struct {
	Kind Kind
	// Alias is the credential alias in use, when known.
	Alias  string
	Err    error
	marker error
}

func (f *Failure) Error() string {
	if f.Alias != "" {
		return fmt.Sprintf("analysis %s (credential %s): %v", f.Kind, f.Alias, f.Err)
	}
	return fmt.Sprintf("analysis %s: %v", f.Kind, f.Err)
}

// Unwrap exposes both the services marker and the underlying cause.
func (f *Failure) Unwrap() []error {
	out := make([]error, 0, 2)
	if f.marker != nil {
		out = append(out, f.marker)
	}
	if f.Err != nil {
		out = append(out, f.Err)
	}
	return out
}

// Transient builds a retryable failure.
func Transient(err error) *Failure {
	return &Failure{Kind: KindTransient, Err: err, marker: services.ErrTransient}
}

// Fatal builds a non-retryable failure tagged with marker.
func Fatal(marker, err error) *Failure {
	if marker == nil {
		marker = services.ErrExternalTool
	}
	return &Failure{Kind: KindFatal, Err: err, marker: marker}
}

// Blocked builds a failure for empty or refused responses.
func Blocked(err error) *Failure {
	return &Failure{Kind: KindBlocked, Err: err, marker: services.ErrExternalTool}
}

// KindOf returns the failure kind of err. Errors that are not a *Failure are
// reported as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return KindTransient
}
