// Package textutil provides small text helpers shared across packages:
// directory-safe slugs for stage and worker names, and title casing for
// human-facing stage labels.
package textutil
