package repository

import (
	"context"
	"fmt"
)

// schemaFor returns the migration for a dialect. Timestamps are stored as
// unix milliseconds. Rows written within the same millisecond are ordered by
// an identity column: a BIGSERIAL seq on Postgres, the implicit rowid on
// SQLite.
func schemaFor(d Dialect) []string {
	seq := ""
	if d == DialectPostgres {
		seq = ",\n\t\tseq BIGSERIAL NOT NULL UNIQUE"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		vessel_type TEXT NOT NULL,
		fuel_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		ghg_intensity_gco2e_per_mj DOUBLE PRECISION NOT NULL,
		fuel_consumption_tonnes DOUBLE PRECISION NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		total_emissions_tonnes DOUBLE PRECISION NOT NULL,
		is_baseline BOOLEAN NOT NULL DEFAULT FALSE
	)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_year ON routes (year)`,
		`CREATE TABLE IF NOT EXISTS ship_compliance (
		ship_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		cb_gco2eq DOUBLE PRECISION NOT NULL,
		energy_in_scope_mj DOUBLE PRECISION NOT NULL,
		target_intensity_gco2e_per_mj DOUBLE PRECISION NOT NULL,
		actual_intensity_gco2e_per_mj DOUBLE PRECISION NOT NULL,
		fuel_consumption_tonnes DOUBLE PRECISION NOT NULL,
		computed_at_ms BIGINT NOT NULL,
		PRIMARY KEY (ship_id, year)
	)`,
		`CREATE TABLE IF NOT EXISTS bank_entries (
		id TEXT PRIMARY KEY,
		ship_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('bank', 'apply')),
		amount_gco2eq DOUBLE PRECISION NOT NULL CHECK (amount_gco2eq > 0),
		created_at_ms BIGINT NOT NULL` + seq + `
	)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_entries_ship_year ON bank_entries (ship_id, year)`,
		`CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		created_at_ms BIGINT NOT NULL` + seq + `
	)`,
		`CREATE TABLE IF NOT EXISTS pool_members (
		pool_id TEXT NOT NULL REFERENCES pools (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		ship_id TEXT NOT NULL,
		cb_before DOUBLE PRECISION NOT NULL,
		cb_after DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (pool_id, position)
	)`,
	}
}

// seqColumn names the insertion-order column of bank_entries and pools.
func (s *SQL) seqColumn() string {
	if s.dialect == DialectSQLite {
		return "rowid"
	}
	return "seq"
}

func (s *SQL) migrate(ctx context.Context) error {
	for i, stmt := range schemaFor(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
