// Package banking banks compliance surplus and applies it against deficits
// through the append-only ledger.
package banking

import (
	"context"
	"fmt"

	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/repository"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"github.com/terminal-bench/mariscope/pkg/lock"
	"go.uber.org/zap"
)

// Scope selects how banked balances are keyed.
type Scope string

const (
	// ScopePeriod keys balances by ship and year.
	ScopePeriod Scope = "period"
	// ScopeShip keys balances by ship across all years.
	ScopeShip Scope = "ship"
)

// Notifier records operator activity.
type Notifier interface {
	Notify(ctx context.Context, activityType, shipID string, year int, message string, data interface{}) error
}

// Service implements bank, apply and record queries.
type Service struct {
	routes   repository.RouteStore
	ledger   repository.LedgerStore
	locker   lock.Locker
	scope    Scope
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a banking service. An empty scope means ScopePeriod.
func NewService(store repository.Store, locker lock.Locker, scope Scope, notifier Notifier, logger *zap.Logger) *Service {
	if scope == "" {
		scope = ScopePeriod
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		routes:   store.Routes(),
		ledger:   store.Ledger(),
		locker:   locker,
		scope:    scope,
		notifier: notifier,
		logger:   logger,
	}
}

// BankRequest banks Amount, or the whole surplus when Amount is nil.
type BankRequest struct {
	ShipID string   `json:"shipId"`
	Amount *float64 `json:"amount,omitempty"`
}

// ApplyRequest applies Amount of banked surplus.
type ApplyRequest struct {
	ShipID string  `json:"shipId"`
	Amount float64 `json:"amount"`
}

// BankResponse reports a completed bank operation.
type BankResponse struct {
	ShipID            string  `json:"shipId"`
	Year              int     `json:"year"`
	ComplianceBalance float64 `json:"cb"`
	domain.BankResult
}

// ApplyResponse reports a completed apply operation.
type ApplyResponse struct {
	ShipID            string  `json:"shipId"`
	Year              int     `json:"year"`
	ComplianceBalance float64 `json:"cb"`
	domain.ApplyResult
}

// RecordQuery filters ledger entries.
type RecordQuery struct {
	ShipID string
	Year   int
}

// Records lists ledger entries. CurrentBankedAmount is set when the query
// addresses a single ledger balance.
type Records struct {
	Records             []models.LedgerEntry `json:"records"`
	CurrentBankedAmount *float64             `json:"currentBankedAmount,omitempty"`
}

func (s *Service) key(shipID string, year int) models.LedgerKey {
	if s.scope == ScopeShip {
		return models.LedgerKey{ShipID: shipID}
	}
	return models.LedgerKey{ShipID: shipID, Year: year}
}

func lockKey(k models.LedgerKey) string {
	if k.Year == 0 {
		return "ledger:" + k.ShipID
	}
	return fmt.Sprintf("ledger:%s:%d", k.ShipID, k.Year)
}

func (s *Service) loadRoute(ctx context.Context, id string) (*models.Route, error) {
	route, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load route %s: %w", id, err)
	}
	if route == nil {
		return nil, domain.NewNotFoundError("Route not found: %s", id)
	}
	return route, nil
}

// Bank moves surplus compliance balance into the ledger.
func (s *Service) Bank(ctx context.Context, req BankRequest) (*BankResponse, error) {
	route, err := s.loadRoute(ctx, req.ShipID)
	if err != nil {
		return nil, err
	}
	cb, err := domain.CalculateForRoute(*route, nil)
	if err != nil {
		return nil, err
	}

	key := s.key(route.ID, route.Year)
	var resp *BankResponse
	err = s.locker.WithLock(ctx, lockKey(key), func(ctx context.Context) error {
		var result domain.BankResult
		_, err := s.ledger.AppendChecked(ctx, key, func(current float64) (models.LedgerEntry, error) {
			var err error
			if result, err = domain.BankSurplus(current, cb.ComplianceBalance, req.Amount); err != nil {
				return models.LedgerEntry{}, err
			}
			return models.LedgerEntry{
				ShipID:    route.ID,
				Year:      route.Year,
				EntryType: models.EntryTypeBank,
				Amount:    result.BankedAmount,
			}, nil
		})
		if err != nil {
			return err
		}

		resp = &BankResponse{
			ShipID:            route.ID,
			Year:              route.Year,
			ComplianceBalance: cb.ComplianceBalance,
			BankResult:        result,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("surplus banked",
		zap.String("ship_id", resp.ShipID),
		zap.Int("year", resp.Year),
		zap.Float64("amount", resp.BankedAmount),
		zap.Float64("banked_total", resp.NewBankedTotal),
	)
	s.notify(ctx, notification.ActivityBanked, resp.ShipID, resp.Year,
		fmt.Sprintf("Banked %.2f gCO2e for %s", resp.BankedAmount, resp.ShipID), resp)

	return resp, nil
}

// Apply offsets a deficit with previously banked surplus.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error) {
	route, err := s.loadRoute(ctx, req.ShipID)
	if err != nil {
		return nil, err
	}
	cb, err := domain.CalculateForRoute(*route, nil)
	if err != nil {
		return nil, err
	}

	key := s.key(route.ID, route.Year)
	var resp *ApplyResponse
	err = s.locker.WithLock(ctx, lockKey(key), func(ctx context.Context) error {
		var result domain.ApplyResult
		_, err := s.ledger.AppendChecked(ctx, key, func(current float64) (models.LedgerEntry, error) {
			var err error
			if result, err = domain.ApplyBanked(current, cb.ComplianceBalance, req.Amount); err != nil {
				return models.LedgerEntry{}, err
			}
			return models.LedgerEntry{
				ShipID:    route.ID,
				Year:      route.Year,
				EntryType: models.EntryTypeApply,
				Amount:    result.AppliedAmount,
			}, nil
		})
		if err != nil {
			return err
		}

		resp = &ApplyResponse{
			ShipID:            route.ID,
			Year:              route.Year,
			ComplianceBalance: cb.ComplianceBalance,
			ApplyResult:       result,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("banked surplus applied",
		zap.String("ship_id", resp.ShipID),
		zap.Int("year", resp.Year),
		zap.Float64("amount", resp.AppliedAmount),
		zap.Float64("remaining", resp.RemainingBankedAmount),
	)
	s.notify(ctx, notification.ActivityApplied, resp.ShipID, resp.Year,
		fmt.Sprintf("Applied %.2f gCO2e to %s", resp.AppliedAmount, resp.ShipID), resp)

	return resp, nil
}

// Records lists ledger entries. With both a ship and a year the current
// banked amount under the configured scope is included.
func (s *Service) Records(ctx context.Context, q RecordQuery) (*Records, error) {
	if q.Year < 0 {
		return nil, domain.NewApplicationError("Year must be a positive integer")
	}

	entries, err := s.ledger.GetRecords(ctx, models.RecordFilter{ShipID: q.ShipID, Year: q.Year})
	if err != nil {
		return nil, err
	}

	out := &Records{Records: entries}
	if q.ShipID != "" && q.Year != 0 {
		current, err := s.ledger.GetBankedAmount(ctx, s.key(q.ShipID, q.Year))
		if err != nil {
			return nil, err
		}
		out.CurrentBankedAmount = &current
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, activityType, shipID string, year int, message string, data interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, activityType, shipID, year, message, data); err != nil {
		s.logger.Warn("failed to record activity", zap.String("type", activityType), zap.Error(err))
	}
}
