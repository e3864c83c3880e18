package repository_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/repository"
)

// backends returns a fresh instance of every Store implementation that can
// run without external services.
func backends(t *testing.T) map[string]repository.Store {
	t.Helper()

	sqlite, err := repository.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]repository.Store{
		"memory": repository.NewMemory(),
		"sqlite": sqlite,
	}
}

func TestRouteStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			routes := store.Routes()
			require.NoError(t, routes.SaveAll(ctx, repository.SeedRoutes))

			t.Run("should list all routes ordered by id", func(t *testing.T) {
				all, err := routes.GetAll(ctx, models.RouteFilter{})
				require.NoError(t, err)
				require.Len(t, all, 5)
				assert.Equal(t, "R001", all[0].ID)
				assert.Equal(t, "R005", all[4].ID)
				assert.True(t, all[0].IsBaseline)
				assert.InDelta(t, 91.0, all[0].GHGIntensity, 1e-9)
			})

			t.Run("should filter routes", func(t *testing.T) {
				byYear, err := routes.GetAll(ctx, models.RouteFilter{Year: 2025})
				require.NoError(t, err)
				assert.Len(t, byYear, 2)

				lng, err := routes.GetAll(ctx, models.RouteFilter{FuelType: "LNG", VesselType: "Container"})
				require.NoError(t, err)
				require.Len(t, lng, 1)
				assert.Equal(t, "R005", lng[0].ID)
			})

			t.Run("should return nil for unknown id", func(t *testing.T) {
				route, err := routes.GetByID(ctx, "missing")
				require.NoError(t, err)
				assert.Nil(t, route)
			})

			t.Run("should upsert on save", func(t *testing.T) {
				route, err := routes.GetByID(ctx, "R002")
				require.NoError(t, err)
				require.NotNil(t, route)

				route.DistanceKm = 11600
				require.NoError(t, routes.Save(ctx, *route))

				got, err := routes.GetByID(ctx, "R002")
				require.NoError(t, err)
				assert.Equal(t, 11600.0, got.DistanceKm)

				all, err := routes.GetAll(ctx, models.RouteFilter{})
				require.NoError(t, err)
				assert.Len(t, all, 5)
			})
		})
	}
}

func validationMessage(t *testing.T, err error) string {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	return verr.Message
}

func TestRouteStoreRules(t *testing.T) {
	ctx := context.Background()
	valid := models.Route{ID: "R010", VesselType: "Tanker", FuelType: "MGO", Year: 2024, GHGIntensity: 90, FuelConsumption: 100}

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			routes := store.Routes()
			require.NoError(t, routes.SaveAll(ctx, repository.SeedRoutes))

			baselines := func(t *testing.T, year int) []string {
				t.Helper()
				all, err := routes.GetAll(ctx, models.RouteFilter{Year: year})
				require.NoError(t, err)
				var ids []string
				for _, r := range all {
					if r.IsBaseline {
						ids = append(ids, r.ID)
					}
				}
				return ids
			}

			t.Run("should reject invalid routes", func(t *testing.T) {
				noID := valid
				noID.ID = ""
				negativeYear := valid
				negativeYear.Year = -1
				nanIntensity := valid
				nanIntensity.GHGIntensity = math.NaN()
				negativeFuel := valid
				negativeFuel.FuelConsumption = -10

				for _, bad := range []models.Route{noID, negativeYear, nanIntensity, negativeFuel} {
					validationMessage(t, routes.Save(ctx, bad))
				}

				all, err := routes.GetAll(ctx, models.RouteFilter{})
				require.NoError(t, err)
				assert.Len(t, all, 5)
			})

			t.Run("should write nothing when one route is invalid", func(t *testing.T) {
				bad := valid
				bad.ID = "R011"
				bad.FuelConsumption = math.Inf(1)

				err := routes.SaveAll(ctx, []models.Route{valid, bad})
				validationMessage(t, err)

				got, err := routes.GetByID(ctx, valid.ID)
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("should reject a second baseline in a year", func(t *testing.T) {
				second := valid
				second.IsBaseline = true

				err := routes.Save(ctx, second)
				assert.Equal(t, "Year 2024 already has baseline route R001", validationMessage(t, err))
				assert.Equal(t, []string{"R001"}, baselines(t, 2024))

				got, err := routes.GetByID(ctx, second.ID)
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("should move a baseline within one write", func(t *testing.T) {
				r001, err := routes.GetByID(ctx, "R001")
				require.NoError(t, err)
				r002, err := routes.GetByID(ctx, "R002")
				require.NoError(t, err)

				r002.IsBaseline = true
				r001.IsBaseline = false
				require.NoError(t, routes.SaveAll(ctx, []models.Route{*r002, *r001}))
				assert.Equal(t, []string{"R002"}, baselines(t, 2024))
			})
		})
	}
}

func TestSeedRoutesAreValid(t *testing.T) {
	for _, route := range repository.SeedRoutes {
		assert.NoError(t, domain.ValidateRoute(route), route.ID)
	}
	assert.NoError(t, domain.CheckBaselines(repository.SeedRoutes))
}

func TestLedgerAppendChecked(t *testing.T) {
	ctx := context.Background()
	key := models.LedgerKey{ShipID: "R002", Year: 2024}

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ledger := store.Ledger()
			require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{ShipID: "R002", Year: 2024, EntryType: models.EntryTypeBank, Amount: 500}))

			t.Run("should pass the current balance and append the decided entry", func(t *testing.T) {
				var seen float64
				entry, err := ledger.AppendChecked(ctx, key, func(current float64) (models.LedgerEntry, error) {
					seen = current
					return models.LedgerEntry{ShipID: "R002", Year: 2024, EntryType: models.EntryTypeApply, Amount: 200}, nil
				})
				require.NoError(t, err)
				assert.Equal(t, 500.0, seen)
				assert.NotEqual(t, uuid.Nil, entry.ID)
				assert.False(t, entry.CreatedAt.IsZero())

				banked, err := ledger.GetBankedAmount(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, 300.0, banked)
			})

			t.Run("should write nothing when the decision fails", func(t *testing.T) {
				rejected := errors.New("rejected")
				_, err := ledger.AppendChecked(ctx, key, func(current float64) (models.LedgerEntry, error) {
					return models.LedgerEntry{}, rejected
				})
				assert.ErrorIs(t, err, rejected)

				records, err := ledger.GetRecords(ctx, models.RecordFilter{ShipID: "R002"})
				require.NoError(t, err)
				assert.Len(t, records, 2)
			})

			t.Run("should serialize concurrent decisions", func(t *testing.T) {
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, _ = ledger.AppendChecked(ctx, key, func(current float64) (models.LedgerEntry, error) {
							if current < 100 {
								return models.LedgerEntry{}, errors.New("insufficient")
							}
							return models.LedgerEntry{ShipID: "R002", Year: 2024, EntryType: models.EntryTypeApply, Amount: 100}, nil
						})
					}()
				}
				wg.Wait()

				applied, err := ledger.GetAppliedAmount(ctx, "R002", 2024)
				require.NoError(t, err)
				assert.Equal(t, 500.0, applied)
			})

			t.Run("should keep insertion order for equal timestamps", func(t *testing.T) {
				at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
				for _, amount := range []float64{3, 1, 2} {
					require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{
						ShipID: "R005", Year: 2024, EntryType: models.EntryTypeBank, Amount: amount, CreatedAt: at,
					}))
				}

				records, err := ledger.GetRecords(ctx, models.RecordFilter{ShipID: "R005"})
				require.NoError(t, err)
				require.Len(t, records, 3)
				assert.Equal(t, []float64{3, 1, 2}, []float64{records[0].Amount, records[1].Amount, records[2].Amount})
			})
		})
	}
}

func TestLedgerStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ledger := store.Ledger()

			t.Run("should return zero for an empty ledger", func(t *testing.T) {
				amount, err := ledger.GetBankedAmount(ctx, models.LedgerKey{ShipID: "R001", Year: 2024})
				require.NoError(t, err)
				assert.Zero(t, amount)
			})

			require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{ShipID: "R001", Year: 2024, EntryType: models.EntryTypeBank, Amount: 1000}))
			require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{ShipID: "R001", Year: 2024, EntryType: models.EntryTypeApply, Amount: 400}))
			require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{ShipID: "R001", Year: 2025, EntryType: models.EntryTypeBank, Amount: 250}))
			require.NoError(t, ledger.SaveRecord(ctx, models.LedgerEntry{ShipID: "R002", Year: 2024, EntryType: models.EntryTypeApply, Amount: 75}))

			t.Run("should sum per period", func(t *testing.T) {
				amount, err := ledger.GetBankedAmount(ctx, models.LedgerKey{ShipID: "R001", Year: 2024})
				require.NoError(t, err)
				assert.InDelta(t, 600, amount, 1e-9)
			})

			t.Run("should sum across periods for a zero year", func(t *testing.T) {
				amount, err := ledger.GetBankedAmount(ctx, models.LedgerKey{ShipID: "R001"})
				require.NoError(t, err)
				assert.InDelta(t, 850, amount, 1e-9)
			})

			t.Run("should floor a negative balance at zero", func(t *testing.T) {
				amount, err := ledger.GetBankedAmount(ctx, models.LedgerKey{ShipID: "R002", Year: 2024})
				require.NoError(t, err)
				assert.Zero(t, amount)
			})

			t.Run("should sum applied amounts", func(t *testing.T) {
				applied, err := ledger.GetAppliedAmount(ctx, "R001", 2024)
				require.NoError(t, err)
				assert.InDelta(t, 400, applied, 1e-9)

				none, err := ledger.GetAppliedAmount(ctx, "R001", 2025)
				require.NoError(t, err)
				assert.Zero(t, none)
			})

			t.Run("should list records in insertion order", func(t *testing.T) {
				records, err := ledger.GetRecords(ctx, models.RecordFilter{ShipID: "R001"})
				require.NoError(t, err)
				require.Len(t, records, 3)
				assert.Equal(t, models.EntryTypeBank, records[0].EntryType)
				assert.Equal(t, models.EntryTypeApply, records[1].EntryType)
				assert.Equal(t, 2025, records[2].Year)
				for _, r := range records {
					assert.NotEqual(t, uuid.Nil, r.ID)
					assert.False(t, r.CreatedAt.IsZero())
				}

				filtered, err := ledger.GetRecords(ctx, models.RecordFilter{Year: 2024})
				require.NoError(t, err)
				assert.Len(t, filtered, 3)
			})
		})
	}
}

func TestPoolStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			pools := store.Pools()
			members := []models.PoolMember{
				{ShipID: "A", BalanceBefore: 100, BalanceAfter: 40},
				{ShipID: "B", BalanceBefore: -60, BalanceAfter: 0},
			}

			first, err := pools.SavePoolResult(ctx, 2024, members)
			require.NoError(t, err)
			require.NotNil(t, first)
			assert.NotEqual(t, uuid.Nil, first.ID)
			assert.Equal(t, members, first.Members)

			second, err := pools.SavePoolResult(ctx, 2025, members[:1])
			require.NoError(t, err)

			t.Run("should load a pool with members in order", func(t *testing.T) {
				got, err := pools.GetPool(ctx, first.ID)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, 2024, got.Year)
				assert.Equal(t, members, got.Members)
				assert.Equal(t, first.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
			})

			t.Run("should return nil for unknown pool", func(t *testing.T) {
				got, err := pools.GetPool(ctx, uuid.New())
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("should list pools by year", func(t *testing.T) {
				all, err := pools.ListPools(ctx, 0)
				require.NoError(t, err)
				require.Len(t, all, 2)
				assert.Equal(t, first.ID, all[0].ID)
				assert.Equal(t, second.ID, all[1].ID)
				assert.Len(t, all[0].Members, 2)

				only, err := pools.ListPools(ctx, 2025)
				require.NoError(t, err)
				require.Len(t, only, 1)
				assert.Equal(t, second.ID, only[0].ID)
			})

			t.Run("should not share member slices with callers", func(t *testing.T) {
				got, err := pools.GetPool(ctx, first.ID)
				require.NoError(t, err)
				got.Members[0].BalanceAfter = -1

				again, err := pools.GetPool(ctx, first.ID)
				require.NoError(t, err)
				assert.Equal(t, 40.0, again.Members[0].BalanceAfter)
			})
		})
	}
}

func TestComplianceStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			compliance := store.Compliance()
			result := models.ComplianceResult{
				TargetIntensity:   89.3368,
				ActualIntensity:   88.0,
				FuelConsumption:   4800,
				EnergyInScopeMJ:   196800000,
				ComplianceBalance: 263082240,
			}

			require.NoError(t, compliance.SaveForShip(ctx, "R002", 2024, result))
			require.NoError(t, compliance.SaveForShip(ctx, "R001", 2024, models.ComplianceResult{ComplianceBalance: -1}))

			t.Run("should read back a saved result", func(t *testing.T) {
				rec, err := compliance.GetByShip(ctx, "R002", 2024)
				require.NoError(t, err)
				require.NotNil(t, rec)
				assert.Equal(t, result, rec.Result)
				assert.False(t, rec.ComputedAt.IsZero())
			})

			t.Run("should overwrite on save", func(t *testing.T) {
				updated := result
				updated.ComplianceBalance = 5
				require.NoError(t, compliance.SaveForShip(ctx, "R002", 2024, updated))

				rec, err := compliance.GetByShip(ctx, "R002", 2024)
				require.NoError(t, err)
				assert.Equal(t, 5.0, rec.Result.ComplianceBalance)
			})

			t.Run("should return nil when missing", func(t *testing.T) {
				rec, err := compliance.GetByShip(ctx, "R002", 2030)
				require.NoError(t, err)
				assert.Nil(t, rec)
			})

			t.Run("should list records", func(t *testing.T) {
				all, err := compliance.GetAll(ctx, models.ComplianceFilter{Year: 2024})
				require.NoError(t, err)
				require.Len(t, all, 2)
				assert.Equal(t, "R001", all[0].ShipID)

				one, err := compliance.GetAll(ctx, models.ComplianceFilter{ShipID: "R002"})
				require.NoError(t, err)
				assert.Len(t, one, 1)
			})
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repository.Seed(ctx, store))
			require.NoError(t, repository.Seed(ctx, store))

			routes, err := store.Routes().GetAll(ctx, models.RouteFilter{})
			require.NoError(t, err)
			assert.Len(t, routes, 5)

			records, err := store.Ledger().GetRecords(ctx, models.RecordFilter{})
			require.NoError(t, err)
			assert.Len(t, records, 3)

			banked, err := store.Ledger().GetBankedAmount(ctx, models.LedgerKey{ShipID: "R002", Year: 2024})
			require.NoError(t, err)
			assert.Equal(t, 300000.0, banked)
		})
	}
}

func TestMemoryConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Ledger().SaveRecord(ctx, models.LedgerEntry{ShipID: "S", Year: 2024, EntryType: models.EntryTypeBank, Amount: 10})
		}()
	}
	wg.Wait()

	amount, err := store.Ledger().GetBankedAmount(ctx, models.LedgerKey{ShipID: "S", Year: 2024})
	require.NoError(t, err)
	assert.InDelta(t, 500, amount, 1e-9)
}
