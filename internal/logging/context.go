package logging

import (
	"context"
	"log/slog"

	"logsentinel/internal/services"
)

// Structured log keys shared by every package.
const (
	FieldComponent     = "component"
	FieldSourceID      = "source_id"
	FieldStage         = "stage"
	FieldWorker        = "worker"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a line for filtering, e.g. "stage_failed".
	FieldEventType = "event_type"
	// FieldErrorHint is the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the consequence of a warning for report delivery.
	FieldImpact = "impact"
	FieldAlert  = "alert"
)

var contextKeys = []struct {
	key     string
	extract func(context.Context) (string, bool)
}{
	{FieldSourceID, services.SourceIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldWorker, services.WorkerFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// WithContext returns logger tagged with the source, stage, worker and
// correlation id carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	for _, ck := range contextKeys {
		if value, ok := ck.extract(ctx); ok {
			args = append(args, slog.String(ck.key, value))
		}
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
