// Package repository defines the storage contracts used by the services and
// provides an in-memory implementation and a database/sql implementation
// for Postgres and SQLite.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/terminal-bench/mariscope/internal/models"
)

// RouteStore reads and writes route records. GetByID returns nil, nil when
// the id does not exist. Writes reject routes that fail
// domain.ValidateRoute and writes that would leave a year with two
// baselines, both as *domain.ValidationError.
type RouteStore interface {
	GetAll(ctx context.Context, filter models.RouteFilter) ([]models.Route, error)
	GetByID(ctx context.Context, id string) (*models.Route, error)
	Save(ctx context.Context, route models.Route) error
	// SaveAll writes every route or none of them.
	SaveAll(ctx context.Context, routes []models.Route) error
}

// LedgerStore is the append-only banking ledger.
type LedgerStore interface {
	// GetBankedAmount returns sum(bank) - sum(apply) for the key, floored
	// at zero. A zero key year sums across all periods.
	GetBankedAmount(ctx context.Context, key models.LedgerKey) (float64, error)
	SaveRecord(ctx context.Context, entry models.LedgerEntry) error
	// AppendChecked passes the current banked amount of key to decide and
	// appends the entry it returns. No other writer can change the key's
	// balance in between. decide must not call back into the store; its
	// error is returned unchanged and nothing is written.
	AppendChecked(ctx context.Context, key models.LedgerKey, decide func(current float64) (models.LedgerEntry, error)) (models.LedgerEntry, error)
	GetRecords(ctx context.Context, filter models.RecordFilter) ([]models.LedgerEntry, error)
	GetAppliedAmount(ctx context.Context, shipID string, year int) (float64, error)
}

// PoolStore persists immutable pool records.
type PoolStore interface {
	// SavePoolResult writes the pool header and all members atomically.
	SavePoolResult(ctx context.Context, year int, members []models.PoolMember) (*models.Pool, error)
	GetPool(ctx context.Context, id uuid.UUID) (*models.Pool, error)
	ListPools(ctx context.Context, year int) ([]models.Pool, error)
}

// ComplianceStore caches computed compliance results.
type ComplianceStore interface {
	SaveForShip(ctx context.Context, shipID string, year int, result models.ComplianceResult) error
	GetByShip(ctx context.Context, shipID string, year int) (*models.ComplianceRecord, error)
	GetAll(ctx context.Context, filter models.ComplianceFilter) ([]models.ComplianceRecord, error)
}

// Store bundles every contract behind one backend.
type Store interface {
	Routes() RouteStore
	Ledger() LedgerStore
	Pools() PoolStore
	Compliance() ComplianceStore
	Close() error
}
