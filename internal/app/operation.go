package app

import (
	"strings"
	"time"
)

// Operation identifies one CLI invocation in the diagnostic log. Every log
// line carries its ID so interleaved runs (a long `watch` next to one-off
// commands) can be told apart.
type Operation struct {
	ID      string
	Name    string
	Started time.Time
	Status  string // "success" or "error"
}

// NewOperation starts an operation named after the CLI command, e.g.
// "checksums rebuild".
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:      now.UTC().Format("20060102T150405Z"),
		Name:    strings.TrimSpace(name),
		Started: now,
		Status:  "success",
	}
}

// Fail marks the operation as failed. Later calls keep the failure.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Elapsed is the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started)
}
