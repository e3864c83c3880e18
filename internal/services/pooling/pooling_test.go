package pooling_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/repository"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"github.com/terminal-bench/mariscope/internal/services/pooling"
)

type fakeArchiver struct {
	archived []uuid.UUID
	pools    map[uuid.UUID]models.Pool
	err      error
}

func (a *fakeArchiver) ArchivePool(ctx context.Context, pool models.Pool) error {
	a.archived = append(a.archived, pool.ID)
	if a.err != nil {
		return a.err
	}
	if a.pools == nil {
		a.pools = make(map[uuid.UUID]models.Pool)
	}
	a.pools[pool.ID] = pool
	return nil
}

func (a *fakeArchiver) LoadPool(ctx context.Context, year int, id uuid.UUID) (*models.Pool, error) {
	pool, ok := a.pools[id]
	if !ok || pool.Year != year {
		return nil, domain.NewNotFoundError("Archived pool not found: %s", id)
	}
	return &pool, nil
}

// fleet holds S1 (cb 1778088), D1 (cb -271912) and D2 (cb -4371912) in 2024
// and X1 in 2025.
func fleet(t *testing.T) *repository.Memory {
	t.Helper()
	store := repository.NewMemory()
	require.NoError(t, store.Routes().SaveAll(context.Background(), []models.Route{
		{ID: "S1", VesselType: "Container", FuelType: "LNG", Year: 2024, GHGIntensity: 85, FuelConsumption: 10},
		{ID: "D1", VesselType: "Tanker", FuelType: "HFO", Year: 2024, GHGIntensity: 90, FuelConsumption: 10},
		{ID: "D2", VesselType: "Tanker", FuelType: "HFO", Year: 2024, GHGIntensity: 100, FuelConsumption: 10},
		{ID: "X1", VesselType: "RoRo", FuelType: "MGO", Year: 2025, GHGIntensity: 80, FuelConsumption: 10},
	}))
	return store
}

func byShip(members []models.PoolMember) map[string]models.PoolMember {
	out := make(map[string]models.PoolMember, len(members))
	for _, m := range members {
		out[m.ShipID] = m
	}
	return out
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should pool an explicit member set", func(t *testing.T) {
		store := fleet(t)
		archiver := &fakeArchiver{}
		feed := notification.NewService(nil, nil, nil)
		svc := pooling.NewService(store, pooling.Options{Archiver: archiver, Notifier: feed})

		result, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D1"}})
		require.NoError(t, err)
		require.Len(t, result.Members, 2)
		assert.Equal(t, "S1", result.Members[0].ShipID)

		members := byShip(result.Members)
		assert.Equal(t, 0.0, members["D1"].BalanceAfter)
		assert.InDelta(t, 1506176, members["S1"].BalanceAfter, 1e-6)
		assert.InDelta(t, result.SumBefore, result.SumAfter, 1e-6)
		assert.InDelta(t, 1506176, result.SumAfter, 1e-6)

		stored, err := store.Pools().GetPool(ctx, result.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, result.Members, stored.Members)

		assert.Equal(t, []uuid.UUID{result.ID}, archiver.archived)
		recent, err := feed.Recent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, notification.ActivityPoolCreated, recent[0].Type)
	})

	t.Run("should reject a net-negative period", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024})
		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "Pool cannot be created when total compliance balance is negative", verr.Message)
	})

	t.Run("should count applied banked amounts when configured", func(t *testing.T) {
		store := fleet(t)
		require.NoError(t, store.Ledger().SaveRecord(ctx, models.LedgerEntry{
			ShipID: "D2", Year: 2024, EntryType: models.EntryTypeApply, Amount: 3000000,
		}))

		without := pooling.NewService(store, pooling.Options{IncludeApplied: false})
		_, err := without.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D2"}})
		var verr *domain.ValidationError
		assert.True(t, errors.As(err, &verr))

		with := pooling.NewService(store, pooling.Options{IncludeApplied: true})
		result, err := with.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D2"}})
		require.NoError(t, err)
		members := byShip(result.Members)
		assert.InDelta(t, -1371912, members["D2"].BalanceBefore, 1e-6)
		assert.Equal(t, 0.0, members["D2"].BalanceAfter)
		assert.InDelta(t, 406176, members["S1"].BalanceAfter, 1e-6)
	})

	t.Run("should reject a member from another year", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "X1"}})
		var appErr *domain.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.False(t, domain.IsNotFound(err))
		assert.Equal(t, "Route X1 does not belong to year 2024", appErr.Message)
	})

	t.Run("should reject an unknown member", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "ZZ"}})
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("should reject duplicate members", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "S1"}})
		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "Duplicate ship id in pool: S1", verr.Message)
	})

	t.Run("should reject an empty period", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2030})
		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "Pool must include at least one ship", verr.Message)
	})

	t.Run("should reject a non-positive year", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})

		_, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 0})
		var appErr *domain.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "Year must be a positive integer", appErr.Message)
	})

	t.Run("should succeed when archiving fails", func(t *testing.T) {
		store := fleet(t)
		svc := pooling.NewService(store, pooling.Options{Archiver: &fakeArchiver{err: errors.New("bucket gone")}})

		result, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2025})
		require.NoError(t, err)

		pools, err := store.Pools().ListPools(ctx, 2025)
		require.NoError(t, err)
		require.Len(t, pools, 1)
		assert.Equal(t, result.ID, pools[0].ID)
	})
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	svc := pooling.NewService(fleet(t), pooling.Options{})

	first, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D1"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, pooling.CreatePoolRequest{Year: 2025})
	require.NoError(t, err)

	t.Run("should get a pool with its sums", func(t *testing.T) {
		got, err := svc.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Members, got.Members)
		assert.InDelta(t, first.SumBefore, got.SumBefore, 1e-9)
	})

	t.Run("should fail for unknown pool", func(t *testing.T) {
		_, err := svc.Get(ctx, uuid.New())
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("should list by year", func(t *testing.T) {
		all, err := svc.List(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		only, err := svc.List(ctx, 2024)
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.Equal(t, first.ID, only[0].ID)
	})
}

func TestVerifyArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("should match the archived copy", func(t *testing.T) {
		sqlite, err := repository.OpenSQLite(ctx, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { sqlite.Close() })

		stores := map[string]repository.Store{"memory": fleet(t), "sqlite": sqlite}
		require.NoError(t, sqlite.Routes().SaveAll(ctx, []models.Route{
			{ID: "S1", VesselType: "Container", FuelType: "LNG", Year: 2024, GHGIntensity: 85, FuelConsumption: 10},
			{ID: "D1", VesselType: "Tanker", FuelType: "HFO", Year: 2024, GHGIntensity: 90, FuelConsumption: 10},
		}))

		for name, store := range stores {
			t.Run(name, func(t *testing.T) {
				svc := pooling.NewService(store, pooling.Options{Archiver: &fakeArchiver{}})
				created, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D1"}})
				require.NoError(t, err)

				archived, err := svc.VerifyArchive(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, created.ID, archived.ID)
				assert.InDelta(t, created.SumAfter, archived.SumAfter, 1e-6)
			})
		}
	})

	t.Run("should report a differing copy", func(t *testing.T) {
		archiver := &fakeArchiver{}
		svc := pooling.NewService(fleet(t), pooling.Options{Archiver: archiver})
		created, err := svc.Create(ctx, pooling.CreatePoolRequest{Year: 2024, ShipIDs: []string{"S1", "D1"}})
		require.NoError(t, err)

		tampered := archiver.pools[created.ID]
		tampered.Members = append([]models.PoolMember(nil), tampered.Members...)
		tampered.Members[0].BalanceAfter += 1000
		archiver.pools[created.ID] = tampered

		_, err = svc.VerifyArchive(ctx, created.ID)
		var appErr *domain.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Message, "balance of "+tampered.Members[0].ShipID)
	})

	t.Run("should report a missing copy as not found", func(t *testing.T) {
		store := fleet(t)
		created, err := pooling.NewService(store, pooling.Options{}).Create(ctx, pooling.CreatePoolRequest{Year: 2025})
		require.NoError(t, err)

		svc := pooling.NewService(store, pooling.Options{Archiver: &fakeArchiver{}})
		_, err = svc.VerifyArchive(ctx, created.ID)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("should fail for an unknown pool", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{Archiver: &fakeArchiver{}})
		_, err := svc.VerifyArchive(ctx, uuid.New())
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("should fail without an archive", func(t *testing.T) {
		svc := pooling.NewService(fleet(t), pooling.Options{})
		_, err := svc.VerifyArchive(ctx, uuid.New())
		var appErr *domain.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "Pool archive is not configured", appErr.Message)
	})
}
