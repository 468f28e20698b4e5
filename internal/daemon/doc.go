// Package daemon coordinates the long-running logsentinel process.
//
// It wires configuration, the pipeline scheduler and the run history store
// into a single lifecycle with flock-based locking to prevent multiple
// instances. The same lock guards one-shot runs so a manual "logsentinel
// once" never races a running daemon over checkpoints.
//
// Keep orchestration logic here: stage execution lives in the pipeline
// package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
