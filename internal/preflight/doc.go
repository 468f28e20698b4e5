// Package preflight provides readiness checks for the filesystem paths and
// external services that logsentinel depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll once at startup and refuses to start when a
//     required directory is unusable. Per-source failures are logged only,
//     since a missing log file may appear later.
//   - The CLI "logsentinel status --check" command additionally probes each
//     LLM credential profile and SMTP profile.
//
// Disabled sources and stages are skipped.
package preflight
