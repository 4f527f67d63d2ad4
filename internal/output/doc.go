// Package output renders the end-of-run report as text, JSON or YAML, prints
// the live progress line and appends runs to a history file.
package output
