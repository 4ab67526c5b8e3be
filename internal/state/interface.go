package state

import (
	"context"
	"io"
	"time"
)

// RunStore handles run ledger operations.
type RunStore interface {
	RecordRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RunStats(ctx context.Context) (*Stats, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for the run ledger backend.
// It composes focused sub-interfaces for better modularity.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	PurgeOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
