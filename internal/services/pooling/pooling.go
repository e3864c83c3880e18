// Package pooling forms compliance pools for a reporting period.
package pooling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/repository"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"go.uber.org/zap"
)

// Notifier records operator activity.
type Notifier interface {
	Notify(ctx context.Context, activityType, shipID string, year int, message string, data interface{}) error
}

// Archiver keeps a copy of created pools outside the database.
type Archiver interface {
	ArchivePool(ctx context.Context, pool models.Pool) error
	LoadPool(ctx context.Context, year int, id uuid.UUID) (*models.Pool, error)
}

// Options configures a Service.
type Options struct {
	// IncludeApplied adds banked amounts already applied to a ship to its
	// poolable balance.
	IncludeApplied bool
	Notifier       Notifier
	Archiver       Archiver
	Logger         *zap.Logger
}

// Service implements pool creation and retrieval.
type Service struct {
	routes repository.RouteStore
	ledger repository.LedgerStore
	pools  repository.PoolStore
	opts   Options
	logger *zap.Logger
}

// NewService creates a pooling service.
func NewService(store repository.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		routes: store.Routes(),
		ledger: store.Ledger(),
		pools:  store.Pools(),
		opts:   opts,
		logger: logger,
	}
}

// CreatePoolRequest names the period and, optionally, an explicit member
// set. Without ShipIDs every route of the year joins.
type CreatePoolRequest struct {
	Year    int      `json:"year"`
	ShipIDs []string `json:"shipIds,omitempty"`
}

// PoolResult is a stored pool with conservation diagnostics.
type PoolResult struct {
	models.Pool
	SumBefore float64 `json:"poolSumBefore"`
	SumAfter  float64 `json:"poolSumAfter"`
}

// Create allocates surplus across the member set and stores the pool.
func (s *Service) Create(ctx context.Context, req CreatePoolRequest) (*PoolResult, error) {
	if req.Year <= 0 {
		return nil, domain.NewApplicationError("Year must be a positive integer")
	}

	routes, err := s.members(ctx, req)
	if err != nil {
		return nil, err
	}

	balances := make([]domain.PoolMemberBalance, 0, len(routes))
	for _, route := range routes {
		cb, err := domain.CalculateForRoute(route, nil)
		if err != nil {
			return nil, err
		}
		poolable := cb.ComplianceBalance
		if s.opts.IncludeApplied {
			applied, err := s.ledger.GetAppliedAmount(ctx, route.ID, route.Year)
			if err != nil {
				return nil, err
			}
			poolable += applied
		}
		balances = append(balances, domain.PoolMemberBalance{ShipID: route.ID, ComplianceBalance: poolable})
	}

	members, err := domain.CreatePool(balances)
	if err != nil {
		return nil, err
	}

	pool, err := s.pools.SavePoolResult(ctx, req.Year, members)
	if err != nil {
		return nil, err
	}

	before, after := domain.PoolSums(pool.Members)
	result := &PoolResult{Pool: *pool, SumBefore: before, SumAfter: after}

	s.logger.Info("pool created",
		zap.String("pool_id", pool.ID.String()),
		zap.Int("year", pool.Year),
		zap.Int("members", len(pool.Members)),
		zap.Float64("sum_before", before),
		zap.Float64("sum_after", after),
	)
	s.publish(ctx, result)

	return result, nil
}

func (s *Service) members(ctx context.Context, req CreatePoolRequest) ([]models.Route, error) {
	if len(req.ShipIDs) == 0 {
		routes, err := s.routes.GetAll(ctx, models.RouteFilter{Year: req.Year})
		if err != nil {
			return nil, fmt.Errorf("failed to load period %d: %w", req.Year, err)
		}
		return routes, nil
	}

	routes := make([]models.Route, 0, len(req.ShipIDs))
	for _, id := range req.ShipIDs {
		route, err := s.routes.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load route %s: %w", id, err)
		}
		if route == nil {
			return nil, domain.NewNotFoundError("Route not found: %s", id)
		}
		if route.Year != req.Year {
			return nil, domain.NewApplicationError("Route %s does not belong to year %d", id, req.Year)
		}
		routes = append(routes, *route)
	}
	return routes, nil
}

// publish archives and announces a stored pool. Failures are logged only;
// the pool is already committed.
func (s *Service) publish(ctx context.Context, result *PoolResult) {
	if s.opts.Archiver != nil {
		if err := s.opts.Archiver.ArchivePool(ctx, result.Pool); err != nil {
			s.logger.Warn("failed to archive pool", zap.String("pool_id", result.ID.String()), zap.Error(err))
		}
	}
	if s.opts.Notifier != nil {
		msg := fmt.Sprintf("Pool %s created for %d with %d members", result.ID, result.Year, len(result.Members))
		if err := s.opts.Notifier.Notify(ctx, notification.ActivityPoolCreated, "", result.Year, msg, result); err != nil {
			s.logger.Warn("failed to record activity", zap.Error(err))
		}
	}
}

// Get returns a stored pool.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PoolResult, error) {
	pool, err := s.pools.GetPool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool %s: %w", id, err)
	}
	if pool == nil {
		return nil, domain.NewNotFoundError("Pool not found: %s", id)
	}
	before, after := domain.PoolSums(pool.Members)
	return &PoolResult{Pool: *pool, SumBefore: before, SumAfter: after}, nil
}

// VerifyArchive loads the archived copy of a stored pool and checks that it
// matches the database record.
func (s *Service) VerifyArchive(ctx context.Context, id uuid.UUID) (*PoolResult, error) {
	if s.opts.Archiver == nil {
		return nil, domain.NewApplicationError("Pool archive is not configured")
	}

	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	archived, err := s.opts.Archiver.LoadPool(ctx, stored.Year, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load archived pool %s: %w", id, err)
	}

	if diff := poolDiff(stored.Pool, *archived); diff != "" {
		s.logger.Warn("archived pool differs from stored record",
			zap.String("pool_id", id.String()),
			zap.String("diff", diff),
		)
		return nil, domain.NewApplicationError("Archived pool %s does not match the stored record: %s", id, diff)
	}

	before, after := domain.PoolSums(archived.Members)
	return &PoolResult{Pool: *archived, SumBefore: before, SumAfter: after}, nil
}

// poolDiff describes the first difference between two copies of a pool.
// Timestamps are compared at millisecond precision.
func poolDiff(stored, archived models.Pool) string {
	if stored.ID != archived.ID {
		return "id"
	}
	if stored.Year != archived.Year {
		return "year"
	}
	if !stored.CreatedAt.Truncate(time.Millisecond).Equal(archived.CreatedAt.Truncate(time.Millisecond)) {
		return "createdAt"
	}
	if len(stored.Members) != len(archived.Members) {
		return "member count"
	}

	byShip := make(map[string]models.PoolMember, len(archived.Members))
	for _, m := range archived.Members {
		byShip[m.ShipID] = m
	}
	for _, m := range stored.Members {
		other, ok := byShip[m.ShipID]
		if !ok {
			return "member " + m.ShipID
		}
		if math.Abs(m.BalanceBefore-other.BalanceBefore) > 1e-6 || math.Abs(m.BalanceAfter-other.BalanceAfter) > 1e-6 {
			return "balance of " + m.ShipID
		}
	}
	return ""
}

// List returns pools of year, or every pool when year is zero.
func (s *Service) List(ctx context.Context, year int) ([]PoolResult, error) {
	if year < 0 {
		return nil, domain.NewApplicationError("Year must be a positive integer")
	}

	pools, err := s.pools.ListPools(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	out := make([]PoolResult, 0, len(pools))
	for _, pool := range pools {
		before, after := domain.PoolSums(pool.Members)
		out = append(out, PoolResult{Pool: pool, SumBefore: before, SumAfter: after})
	}
	return out, nil
}
