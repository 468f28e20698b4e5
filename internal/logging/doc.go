// Package logging builds the slog loggers used by the daemon and CLI.
//
// Two formats exist: a console line format that prefixes each record with
// its component and [source/stage#worker] scope, and JSON for log shippers.
// WithContext stamps the identifiers carried on a context, and
// WarnWithContext/ErrorWithContext guarantee every warning names an event
// type, a hint and an impact. CleanupOldLogs prunes per-run daemon logs.
package logging
