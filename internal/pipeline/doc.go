// Package pipeline drives each source through its chain of analysis stages.
//
// Controller runs one source: stage 0 reads new log lines on an interval and
// fans them out through map-reduce, later stages fire when enough upstream
// reports have accumulated. Checkpoints only advance after the stage output is
// durably persisted. Scheduler is the long-running loop that reloads
// configuration and walks the sources on every tick.
package pipeline
