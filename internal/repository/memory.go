package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
)

// Memory is an in-process Store. All collections share one lock so
// multi-record writes are atomic.
type Memory struct {
	mu         sync.RWMutex
	routes     map[string]models.Route
	entries    []models.LedgerEntry
	pools      []models.Pool
	compliance map[complianceKey]models.ComplianceRecord
	now        func() time.Time
}

type complianceKey struct {
	shipID string
	year   int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		routes:     make(map[string]models.Route),
		compliance: make(map[complianceKey]models.ComplianceRecord),
		now:        time.Now,
	}
}

func (m *Memory) Routes() RouteStore { return memoryRoutes{m} }
func (m *Memory) Ledger() LedgerStore { return memoryLedger{m} }
func (m *Memory) Pools() PoolStore { return memoryPools{m} }
func (m *Memory) Compliance() ComplianceStore { return memoryCompliance{m} }
func (m *Memory) Close() error { return nil }

type memoryRoutes struct{ m *Memory }

func (r memoryRoutes) GetAll(ctx context.Context, filter models.RouteFilter) ([]models.Route, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	out := make([]models.Route, 0, len(r.m.routes))
	for _, route := range r.m.routes {
		if filter.Matches(route) {
			out = append(out, route)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memoryRoutes) GetByID(ctx context.Context, id string) (*models.Route, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	route, ok := r.m.routes[id]
	if !ok {
		return nil, nil
	}
	return &route, nil
}

func (r memoryRoutes) Save(ctx context.Context, route models.Route) error {
	return r.SaveAll(ctx, []models.Route{route})
}

func (r memoryRoutes) SaveAll(ctx context.Context, routes []models.Route) error {
	for _, route := range routes {
		if err := domain.ValidateRoute(route); err != nil {
			return err
		}
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	next := make(map[string]models.Route, len(r.m.routes)+len(routes))
	for id, route := range r.m.routes {
		next[id] = route
	}
	for _, route := range routes {
		next[route.ID] = route
	}

	all := make([]models.Route, 0, len(next))
	for _, route := range next {
		all = append(all, route)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if err := domain.CheckBaselines(all); err != nil {
		return err
	}

	r.m.routes = next
	return nil
}

type memoryLedger struct{ m *Memory }

func (l memoryLedger) GetBankedAmount(ctx context.Context, key models.LedgerKey) (float64, error) {
	l.m.mu.RLock()
	defer l.m.mu.RUnlock()

	return l.banked(key), nil
}

func (l memoryLedger) banked(key models.LedgerKey) float64 {
	var total float64
	for _, e := range l.m.entries {
		if e.ShipID != key.ShipID || (key.Year != 0 && e.Year != key.Year) {
			continue
		}
		if e.EntryType == models.EntryTypeBank {
			total += e.Amount
		} else {
			total -= e.Amount
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

func (l memoryLedger) SaveRecord(ctx context.Context, entry models.LedgerEntry) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	l.append(entry)
	return nil
}

func (l memoryLedger) AppendChecked(ctx context.Context, key models.LedgerKey, decide func(current float64) (models.LedgerEntry, error)) (models.LedgerEntry, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	entry, err := decide(l.banked(key))
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return l.append(entry), nil
}

func (l memoryLedger) append(entry models.LedgerEntry) models.LedgerEntry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.m.now().UTC()
	}
	l.m.entries = append(l.m.entries, entry)
	return entry
}

func (l memoryLedger) GetRecords(ctx context.Context, filter models.RecordFilter) ([]models.LedgerEntry, error) {
	l.m.mu.RLock()
	defer l.m.mu.RUnlock()

	out := make([]models.LedgerEntry, 0)
	for _, e := range l.m.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l memoryLedger) GetAppliedAmount(ctx context.Context, shipID string, year int) (float64, error) {
	l.m.mu.RLock()
	defer l.m.mu.RUnlock()

	var total float64
	for _, e := range l.m.entries {
		if e.ShipID == shipID && e.Year == year && e.EntryType == models.EntryTypeApply {
			total += e.Amount
		}
	}
	return total, nil
}

type memoryPools struct{ m *Memory }

func (p memoryPools) SavePoolResult(ctx context.Context, year int, members []models.PoolMember) (*models.Pool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()

	pool := models.Pool{
		ID:        uuid.New(),
		Year:      year,
		CreatedAt: p.m.now().UTC(),
		Members:   append([]models.PoolMember(nil), members...),
	}
	p.m.pools = append(p.m.pools, pool)
	return clonePool(pool), nil
}

func (p memoryPools) GetPool(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()

	for _, pool := range p.m.pools {
		if pool.ID == id {
			return clonePool(pool), nil
		}
	}
	return nil, nil
}

func (p memoryPools) ListPools(ctx context.Context, year int) ([]models.Pool, error) {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()

	out := make([]models.Pool, 0, len(p.m.pools))
	for _, pool := range p.m.pools {
		if year == 0 || pool.Year == year {
			out = append(out, *clonePool(pool))
		}
	}
	return out, nil
}

func clonePool(pool models.Pool) *models.Pool {
	pool.Members = append([]models.PoolMember(nil), pool.Members...)
	return &pool
}

type memoryCompliance struct{ m *Memory }

func (c memoryCompliance) SaveForShip(ctx context.Context, shipID string, year int, result models.ComplianceResult) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	c.m.compliance[complianceKey{shipID, year}] = models.ComplianceRecord{
		ShipID:     shipID,
		Year:       year,
		Result:     result,
		ComputedAt: c.m.now().UTC(),
	}
	return nil
}

func (c memoryCompliance) GetByShip(ctx context.Context, shipID string, year int) (*models.ComplianceRecord, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()

	rec, ok := c.m.compliance[complianceKey{shipID, year}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c memoryCompliance) GetAll(ctx context.Context, filter models.ComplianceFilter) ([]models.ComplianceRecord, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()

	out := make([]models.ComplianceRecord, 0, len(c.m.compliance))
	for _, rec := range c.m.compliance {
		if filter.ShipID != "" && filter.ShipID != rec.ShipID {
			continue
		}
		if filter.Year != 0 && filter.Year != rec.Year {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShipID != out[j].ShipID {
			return out[i].ShipID < out[j].ShipID
		}
		return out[i].Year < out[j].Year
	})
	return out, nil
}
