// Package logs tails the daemon's own log file for the `logsentinel logs`
// command.
//
// Reads are bounded: Last keeps a ring of the final N lines and Follow polls
// from a byte offset. Follow restarts from the beginning when the file shrinks
// or the current-log link is repointed at a newer run log.
package logs
