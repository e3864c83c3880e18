// Package compliance computes and caches compliance balances, compares
// routes against their period baseline and manages the baseline flag.
package compliance

import (
	"context"
	"fmt"

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

// Service implements the route and compliance use cases.
type Service struct {
	routes     repository.RouteStore
	ledger     repository.LedgerStore
	compliance repository.ComplianceStore
	notifier   Notifier
	logger     *zap.Logger
}

// NewService creates a compliance service. notifier may be nil.
func NewService(store repository.Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		routes:     store.Routes(),
		ledger:     store.Ledger(),
		compliance: store.Compliance(),
		notifier:   notifier,
		logger:     logger,
	}
}

// CBQuery selects the routes to compute. ShipIDs takes precedence over
// ShipID and Year.
type CBQuery struct {
	ShipIDs []string
	ShipID  string
	Year    int
}

// RouteCompliance is one computed balance.
type RouteCompliance struct {
	ShipID string                  `json:"shipId"`
	Year   int                     `json:"year"`
	Result models.ComplianceResult `json:"result"`
}

// AdjustedCB is a balance corrected by banked amounts already applied.
type AdjustedCB struct {
	ShipID     string  `json:"shipId"`
	Year       int     `json:"year"`
	CBBefore   float64 `json:"cbBefore"`
	Applied    float64 `json:"applied"`
	AdjustedCB float64 `json:"adjustedCb"`
}

// ComparisonRow compares one route to the baseline.
type ComparisonRow struct {
	RouteID      string  `json:"routeId"`
	Year         int     `json:"year"`
	GHGIntensity float64 `json:"ghgIntensity"`
	PercentDiff  float64 `json:"percentDiff"`
	Compliant    bool    `json:"compliant"`
}

// ComparisonResult is the comparison of a period against its baseline.
type ComparisonResult struct {
	Baseline        models.Route    `json:"baseline"`
	TargetIntensity float64         `json:"targetIntensity"`
	Comparisons     []ComparisonRow `json:"comparisons"`
}

// ListRoutes returns routes matching the filter.
func (s *Service) ListRoutes(ctx context.Context, filter models.RouteFilter) ([]models.Route, error) {
	routes, err := s.routes.GetAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return routes, nil
}

// ComputeCB calculates and caches the compliance balance of every selected
// route.
func (s *Service) ComputeCB(ctx context.Context, q CBQuery) ([]RouteCompliance, error) {
	routes, err := s.resolve(ctx, q)
	if err != nil {
		return nil, err
	}

	results := make([]RouteCompliance, 0, len(routes))
	for _, route := range routes {
		result, err := domain.CalculateForRoute(route, nil)
		if err != nil {
			return nil, err
		}
		if err := s.compliance.SaveForShip(ctx, route.ID, route.Year, result); err != nil {
			return nil, err
		}
		results = append(results, RouteCompliance{ShipID: route.ID, Year: route.Year, Result: result})
	}
	return results, nil
}

// AdjustedCB reports each selected route's balance together with the
// banked amount already applied to it.
func (s *Service) AdjustedCB(ctx context.Context, q CBQuery) ([]AdjustedCB, error) {
	routes, err := s.resolve(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]AdjustedCB, 0, len(routes))
	for _, route := range routes {
		result, err := domain.CalculateForRoute(route, nil)
		if err != nil {
			return nil, err
		}
		applied, err := s.ledger.GetAppliedAmount(ctx, route.ID, route.Year)
		if err != nil {
			return nil, err
		}
		out = append(out, AdjustedCB{
			ShipID:     route.ID,
			Year:       route.Year,
			CBBefore:   result.ComplianceBalance,
			Applied:    applied,
			AdjustedCB: result.ComplianceBalance + applied,
		})
	}
	return out, nil
}

// resolve loads explicit ids (all must exist) or the filtered route set. A
// single ShipID outside the requested Year yields no routes.
func (s *Service) resolve(ctx context.Context, q CBQuery) ([]models.Route, error) {
	if q.Year < 0 {
		return nil, domain.NewApplicationError("Year must be a positive integer")
	}

	ids := q.ShipIDs
	if len(ids) == 0 && q.ShipID != "" {
		ids = []string{q.ShipID}
	}
	if len(ids) == 0 {
		return s.ListRoutes(ctx, models.RouteFilter{Year: q.Year})
	}

	routes := make([]models.Route, 0, len(ids))
	for _, id := range ids {
		route, err := s.routes.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load route %s: %w", id, err)
		}
		if route == nil {
			return nil, domain.NewNotFoundError("Route not found: %s", id)
		}
		if q.Year != 0 && route.Year != q.Year {
			continue
		}
		routes = append(routes, *route)
	}
	return routes, nil
}

// SetBaseline makes id the only baseline of its period and returns the
// stored route.
func (s *Service) SetBaseline(ctx context.Context, id string) (*models.Route, error) {
	target, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load route %s: %w", id, err)
	}
	if target == nil {
		return nil, domain.NewNotFoundError("Route not found: %s", id)
	}

	peers, err := s.routes.GetAll(ctx, models.RouteFilter{Year: target.Year})
	if err != nil {
		return nil, fmt.Errorf("failed to load period %d: %w", target.Year, err)
	}

	changed, err := domain.AssignBaseline(peers, id)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		if err := s.routes.SaveAll(ctx, changed); err != nil {
			return nil, err
		}
	}

	updated, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload route %s: %w", id, err)
	}
	if updated == nil {
		return nil, domain.NewNotFoundError("Route not found: %s", id)
	}

	s.logger.Info("baseline set", zap.String("route_id", id), zap.Int("year", updated.Year))
	s.notify(ctx, notification.ActivityBaselineSet, updated.ID, updated.Year,
		fmt.Sprintf("Route %s is now the baseline for %d", updated.ID, updated.Year), updated)

	return updated, nil
}

// Compare compares every route of year (all years when zero) against the
// flagged baseline.
func (s *Service) Compare(ctx context.Context, year int) (*ComparisonResult, error) {
	if year < 0 {
		return nil, domain.NewApplicationError("Year must be a positive integer")
	}

	routes, err := s.ListRoutes(ctx, models.RouteFilter{Year: year})
	if err != nil {
		return nil, err
	}

	var baseline *models.Route
	for i := range routes {
		if routes[i].IsBaseline {
			baseline = &routes[i]
			break
		}
	}
	if baseline == nil {
		return nil, domain.NewApplicationError("No baseline route is configured for comparison")
	}

	rows := make([]ComparisonRow, 0, len(routes)-1)
	for _, route := range routes {
		if route.ID == baseline.ID {
			continue
		}
		cmp, err := domain.Compare(baseline.GHGIntensity, route.GHGIntensity)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ComparisonRow{
			RouteID:      route.ID,
			Year:         route.Year,
			GHGIntensity: route.GHGIntensity,
			PercentDiff:  cmp.PercentDiff,
			Compliant:    cmp.Compliant,
		})
	}

	return &ComparisonResult{
		Baseline:        *baseline,
		TargetIntensity: domain.TargetIntensity2025,
		Comparisons:     rows,
	}, nil
}

func (s *Service) notify(ctx context.Context, activityType, shipID string, year int, message string, data interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, activityType, shipID, year, message, data); err != nil {
		s.logger.Warn("failed to record activity", zap.String("type", activityType), zap.Error(err))
	}
}
