package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	_ "modernc.org/sqlite"
)

// maxTxAttempts bounds retries of serializable transactions that Postgres
// aborted with a serialization failure.
const maxTxAttempts = 3

// Dialect selects placeholder syntax and transaction options.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQL is a Store backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenPostgres connects to Postgres and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*SQL, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQL(ctx, db, DialectPostgres)
}

// OpenSQLite opens a SQLite file (or ":memory:") and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return newSQL(ctx, db, DialectSQLite)
}

func newSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	s := &SQL{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQL) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PoolStats returns the current database connection pool statistics
func (s *SQL) PoolStats() sql.DBStats {
	return s.db.Stats()
}

func (s *SQL) Routes() RouteStore { return sqlRoutes{s} }
func (s *SQL) Ledger() LedgerStore { return sqlLedger{s} }
func (s *SQL) Pools() PoolStore { return sqlPools{s} }
func (s *SQL) Compliance() ComplianceStore { return sqlCompliance{s} }

// rebind rewrites $N placeholders for SQLite. Queries must use each
// placeholder once, in ascending order.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQL) txOptions() *sql.TxOptions {
	if s.dialect == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// isSerializationFailure reports a Postgres SQLSTATE 40001 abort.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// where builds a WHERE clause from optional column filters.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(column string, value interface{}) {
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, column+" = $"+strconv.Itoa(len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

type sqlRoutes struct{ s *SQL }

const routeColumns = `id, vessel_type, fuel_type, year, ghg_intensity_gco2e_per_mj,
	fuel_consumption_tonnes, distance_km, total_emissions_tonnes, is_baseline`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRoute(row scanner) (models.Route, error) {
	var r models.Route
	err := row.Scan(&r.ID, &r.VesselType, &r.FuelType, &r.Year, &r.GHGIntensity,
		&r.FuelConsumption, &r.DistanceKm, &r.TotalEmissions, &r.IsBaseline)
	return r, err
}

func (r sqlRoutes) GetAll(ctx context.Context, filter models.RouteFilter) ([]models.Route, error) {
	var w where
	if filter.VesselType != "" {
		w.add("vessel_type", filter.VesselType)
	}
	if filter.FuelType != "" {
		w.add("fuel_type", filter.FuelType)
	}
	if filter.Year != 0 {
		w.add("year", filter.Year)
	}

	rows, err := r.s.db.QueryContext(ctx,
		r.s.rebind(`SELECT `+routeColumns+` FROM routes`+w.String()+` ORDER BY id`),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	routes := make([]models.Route, 0)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

func (r sqlRoutes) GetByID(ctx context.Context, id string) (*models.Route, error) {
	route, err := scanRoute(r.s.db.QueryRowContext(ctx,
		r.s.rebind(`SELECT `+routeColumns+` FROM routes WHERE id = $1`),
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return &route, nil
}

func (r sqlRoutes) Save(ctx context.Context, route models.Route) error {
	return r.SaveAll(ctx, []models.Route{route})
}

func (r sqlRoutes) save(ctx context.Context, db execer, route models.Route) error {
	_, err := db.ExecContext(ctx, r.s.rebind(
		`INSERT INTO routes (`+routeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			vessel_type = excluded.vessel_type,
			fuel_type = excluded.fuel_type,
			year = excluded.year,
			ghg_intensity_gco2e_per_mj = excluded.ghg_intensity_gco2e_per_mj,
			fuel_consumption_tonnes = excluded.fuel_consumption_tonnes,
			distance_km = excluded.distance_km,
			total_emissions_tonnes = excluded.total_emissions_tonnes,
			is_baseline = excluded.is_baseline`),
		route.ID, route.VesselType, route.FuelType, route.Year, route.GHGIntensity,
		route.FuelConsumption, route.DistanceKm, route.TotalEmissions, route.IsBaseline,
	)
	if err != nil {
		return fmt.Errorf("failed to save route %s: %w", route.ID, err)
	}
	return nil
}

func (r sqlRoutes) SaveAll(ctx context.Context, routes []models.Route) error {
	for _, route := range routes {
		if err := domain.ValidateRoute(route); err != nil {
			return err
		}
	}

	// Cleared flags are written before new ones.
	ordered := append([]models.Route(nil), routes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !ordered[i].IsBaseline && ordered[j].IsBaseline
	})

	tx, err := r.s.db.BeginTx(ctx, r.s.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, route := range ordered {
		if err := r.save(ctx, tx, route); err != nil {
			return err
		}
	}
	if err := r.checkBaselines(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (r sqlRoutes) checkBaselines(ctx context.Context, tx querier) error {
	var (
		year  int
		first string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT year, MIN(id) FROM routes WHERE is_baseline GROUP BY year HAVING COUNT(*) > 1 ORDER BY year LIMIT 1`,
	).Scan(&year, &first)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check baselines: %w", err)
	}
	return domain.NewValidationError("Year %d already has baseline route %s", year, first)
}

type sqlLedger struct{ s *SQL }

func (l sqlLedger) GetBankedAmount(ctx context.Context, key models.LedgerKey) (float64, error) {
	return l.banked(ctx, l.s.db, key)
}

func (l sqlLedger) banked(ctx context.Context, db querier, key models.LedgerKey) (float64, error) {
	var w where
	w.add("ship_id", key.ShipID)
	if key.Year != 0 {
		w.add("year", key.Year)
	}

	var total float64
	err := db.QueryRowContext(ctx, l.s.rebind(
		`SELECT COALESCE(SUM(CASE WHEN entry_type = 'bank' THEN amount_gco2eq ELSE -amount_gco2eq END), 0)
		 FROM bank_entries`+w.String()),
		w.args...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get banked amount: %w", err)
	}
	if total < 0 {
		return 0, nil
	}
	return total, nil
}

func (l sqlLedger) SaveRecord(ctx context.Context, entry models.LedgerEntry) error {
	_, err := l.insert(ctx, l.s.db, entry)
	return err
}

func (l sqlLedger) insert(ctx context.Context, db execer, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.s.now()
	}
	entry.CreatedAt = fromMillis(toMillis(entry.CreatedAt))

	_, err := db.ExecContext(ctx, l.s.rebind(
		`INSERT INTO bank_entries (id, ship_id, year, entry_type, amount_gco2eq, created_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		entry.ID.String(), entry.ShipID, entry.Year, string(entry.EntryType), entry.Amount, toMillis(entry.CreatedAt),
	)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return entry, nil
}

// AppendChecked reads and appends in one transaction. On Postgres the
// transaction is serializable and holds an advisory lock on the ledger key,
// so concurrent writers of the key queue behind each other; SQLite
// serializes on its single connection.
func (l sqlLedger) AppendChecked(ctx context.Context, key models.LedgerKey, decide func(current float64) (models.LedgerEntry, error)) (models.LedgerEntry, error) {
	for attempt := 1; ; attempt++ {
		entry, err := l.appendChecked(ctx, key, decide)
		if err == nil || !isSerializationFailure(err) || attempt == maxTxAttempts {
			return entry, err
		}
	}
}

func (l sqlLedger) appendChecked(ctx context.Context, key models.LedgerKey, decide func(current float64) (models.LedgerEntry, error)) (models.LedgerEntry, error) {
	tx, err := l.s.db.BeginTx(ctx, l.s.txOptions())
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if l.s.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ledgerLockName(key)); err != nil {
			return models.LedgerEntry{}, fmt.Errorf("failed to lock ledger: %w", err)
		}
	}

	current, err := l.banked(ctx, tx, key)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	entry, err := decide(current)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	saved, err := l.insert(ctx, tx, entry)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("failed to commit: %w", err)
	}
	return saved, nil
}

func ledgerLockName(key models.LedgerKey) string {
	if key.Year == 0 {
		return "ledger:" + key.ShipID
	}
	return fmt.Sprintf("ledger:%s:%d", key.ShipID, key.Year)
}

func (l sqlLedger) GetRecords(ctx context.Context, filter models.RecordFilter) ([]models.LedgerEntry, error) {
	var w where
	if filter.ShipID != "" {
		w.add("ship_id", filter.ShipID)
	}
	if filter.Year != 0 {
		w.add("year", filter.Year)
	}

	rows, err := l.s.db.QueryContext(ctx, l.s.rebind(
		`SELECT id, ship_id, year, entry_type, amount_gco2eq, created_at_ms
		 FROM bank_entries`+w.String()+` ORDER BY created_at_ms ASC, `+l.s.seqColumn()+` ASC`),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var (
			e         models.LedgerEntry
			id        string
			entryType string
			created   int64
		)
		if err := rows.Scan(&id, &e.ShipID, &e.Year, &entryType, &e.Amount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid ledger entry id %q: %w", id, err)
		}
		e.EntryType = models.EntryType(entryType)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l sqlLedger) GetAppliedAmount(ctx context.Context, shipID string, year int) (float64, error) {
	var total float64
	err := l.s.db.QueryRowContext(ctx, l.s.rebind(
		`SELECT COALESCE(SUM(amount_gco2eq), 0)
		 FROM bank_entries WHERE ship_id = $1 AND year = $2 AND entry_type = 'apply'`),
		shipID, year,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get applied amount: %w", err)
	}
	return total, nil
}

type sqlPools struct{ s *SQL }

func (p sqlPools) SavePoolResult(ctx context.Context, year int, members []models.PoolMember) (*models.Pool, error) {
	pool := &models.Pool{
		ID:        uuid.New(),
		Year:      year,
		CreatedAt: fromMillis(toMillis(p.s.now())),
		Members:   append([]models.PoolMember(nil), members...),
	}

	tx, err := p.s.db.BeginTx(ctx, p.s.txOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, p.s.rebind(
		`INSERT INTO pools (id, year, created_at_ms) VALUES ($1, $2, $3)`),
		pool.ID.String(), pool.Year, toMillis(pool.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	for i, m := range members {
		_, err = tx.ExecContext(ctx, p.s.rebind(
			`INSERT INTO pool_members (pool_id, position, ship_id, cb_before, cb_after)
			 VALUES ($1, $2, $3, $4, $5)`),
			pool.ID.String(), i, m.ShipID, m.BalanceBefore, m.BalanceAfter,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add pool member %s: %w", m.ShipID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return pool, nil
}

func (p sqlPools) GetPool(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	var (
		pool    models.Pool
		created int64
	)
	err := p.s.db.QueryRowContext(ctx, p.s.rebind(
		`SELECT year, created_at_ms FROM pools WHERE id = $1`),
		id.String(),
	).Scan(&pool.Year, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	pool.ID = id
	pool.CreatedAt = fromMillis(created)

	if pool.Members, err = p.members(ctx, id); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (p sqlPools) members(ctx context.Context, id uuid.UUID) ([]models.PoolMember, error) {
	rows, err := p.s.db.QueryContext(ctx, p.s.rebind(
		`SELECT ship_id, cb_before, cb_after FROM pool_members WHERE pool_id = $1 ORDER BY position`),
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool members: %w", err)
	}
	defer rows.Close()

	members := make([]models.PoolMember, 0)
	for rows.Next() {
		var m models.PoolMember
		if err := rows.Scan(&m.ShipID, &m.BalanceBefore, &m.BalanceAfter); err != nil {
			return nil, fmt.Errorf("failed to scan pool member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (p sqlPools) ListPools(ctx context.Context, year int) ([]models.Pool, error) {
	var w where
	if year != 0 {
		w.add("year", year)
	}

	rows, err := p.s.db.QueryContext(ctx, p.s.rebind(
		`SELECT id, year, created_at_ms FROM pools`+w.String()+` ORDER BY created_at_ms ASC, `+p.s.seqColumn()+` ASC`),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}

	pools := make([]models.Pool, 0)
	for rows.Next() {
		var (
			pool    models.Pool
			id      string
			created int64
		)
		if err := rows.Scan(&id, &pool.Year, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		if pool.ID, err = uuid.Parse(id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid pool id %q: %w", id, err)
		}
		pool.CreatedAt = fromMillis(created)
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Members are loaded after the cursor is released; SQLite runs on a
	// single connection.
	rows.Close()

	for i := range pools {
		if pools[i].Members, err = p.members(ctx, pools[i].ID); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

type sqlCompliance struct{ s *SQL }

func (c sqlCompliance) SaveForShip(ctx context.Context, shipID string, year int, result models.ComplianceResult) error {
	_, err := c.s.db.ExecContext(ctx, c.s.rebind(
		`INSERT INTO ship_compliance (ship_id, year, cb_gco2eq, energy_in_scope_mj,
			target_intensity_gco2e_per_mj, actual_intensity_gco2e_per_mj, fuel_consumption_tonnes, computed_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ship_id, year) DO UPDATE SET
			cb_gco2eq = excluded.cb_gco2eq,
			energy_in_scope_mj = excluded.energy_in_scope_mj,
			target_intensity_gco2e_per_mj = excluded.target_intensity_gco2e_per_mj,
			actual_intensity_gco2e_per_mj = excluded.actual_intensity_gco2e_per_mj,
			fuel_consumption_tonnes = excluded.fuel_consumption_tonnes,
			computed_at_ms = excluded.computed_at_ms`),
		shipID, year, result.ComplianceBalance, result.EnergyInScopeMJ,
		result.TargetIntensity, result.ActualIntensity, result.FuelConsumption, toMillis(c.s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save compliance for %s/%d: %w", shipID, year, err)
	}
	return nil
}

const complianceColumns = `ship_id, year, cb_gco2eq, energy_in_scope_mj,
	target_intensity_gco2e_per_mj, actual_intensity_gco2e_per_mj, fuel_consumption_tonnes, computed_at_ms`

func scanCompliance(row scanner) (models.ComplianceRecord, error) {
	var (
		rec      models.ComplianceRecord
		computed int64
	)
	err := row.Scan(&rec.ShipID, &rec.Year, &rec.Result.ComplianceBalance, &rec.Result.EnergyInScopeMJ,
		&rec.Result.TargetIntensity, &rec.Result.ActualIntensity, &rec.Result.FuelConsumption, &computed)
	rec.ComputedAt = fromMillis(computed)
	return rec, err
}

func (c sqlCompliance) GetByShip(ctx context.Context, shipID string, year int) (*models.ComplianceRecord, error) {
	rec, err := scanCompliance(c.s.db.QueryRowContext(ctx, c.s.rebind(
		`SELECT `+complianceColumns+` FROM ship_compliance WHERE ship_id = $1 AND year = $2`),
		shipID, year,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance: %w", err)
	}
	return &rec, nil
}

func (c sqlCompliance) GetAll(ctx context.Context, filter models.ComplianceFilter) ([]models.ComplianceRecord, error) {
	var w where
	if filter.ShipID != "" {
		w.add("ship_id", filter.ShipID)
	}
	if filter.Year != 0 {
		w.add("year", filter.Year)
	}

	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(
		`SELECT `+complianceColumns+` FROM ship_compliance`+w.String()+` ORDER BY ship_id, year`),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query compliance: %w", err)
	}
	defer rows.Close()

	records := make([]models.ComplianceRecord, 0)
	for rows.Next() {
		rec, err := scanCompliance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
