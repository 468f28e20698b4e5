// Package history records one row per stage execution in a SQLite database so
// operators can inspect recent runs without reading log files.
//
// The store is an observer: the pipeline logs and ignores its errors.
package history
