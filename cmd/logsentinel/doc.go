// Package main hosts the logsentinel CLI entrypoint and command graph.
//
// The Cobra-based command tree starts the scheduler daemon, runs one-shot
// passes, and exposes read-only introspection (status, history, usage) plus
// the administrative operations that touch persisted state: source rename
// and state reset. Both of those refuse to run while a daemon holds the lock.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
