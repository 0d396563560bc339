// Package sync provides the engine contract used by the scheduler.
package sync

import "context"

// EngineInterface defines the contract for sync engines. The scheduler
// depends on this rather than the concrete Engine so tests can substitute
// mocks.
type EngineInterface interface {
	// Sync performs one reconciliation round.
	Sync(ctx context.Context) (*Result, error)
}

// Ensure *Engine implements the interface at compile time.
var _ EngineInterface = (*Engine)(nil)
