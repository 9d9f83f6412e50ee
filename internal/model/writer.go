package model

import "context"

// Writer defines a generic interface for persisting the verdicts of a cycle
// to an external store.
type Writer interface {
	// Write persists the report. Implementations must not retain it.
	Write(ctx context.Context, report *CycleReport) error

	// Close releases the underlying connection.
	Close() error
}
