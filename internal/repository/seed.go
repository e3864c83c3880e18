package repository

import (
	"context"
	"fmt"

	"github.com/terminal-bench/mariscope/internal/models"
)

// SeedRoutes is the demonstration fleet loaded by Seed.
var SeedRoutes = []models.Route{
	{ID: "R001", VesselType: "Container", FuelType: "HFO", Year: 2024, GHGIntensity: 91.0, FuelConsumption: 5000, DistanceKm: 12000, TotalEmissions: 4500, IsBaseline: true},
	{ID: "R002", VesselType: "BulkCarrier", FuelType: "LNG", Year: 2024, GHGIntensity: 88.0, FuelConsumption: 4800, DistanceKm: 11500, TotalEmissions: 4200},
	{ID: "R003", VesselType: "Tanker", FuelType: "MGO", Year: 2024, GHGIntensity: 93.5, FuelConsumption: 5100, DistanceKm: 12500, TotalEmissions: 4700},
	{ID: "R004", VesselType: "RoRo", FuelType: "HFO", Year: 2025, GHGIntensity: 89.2, FuelConsumption: 4900, DistanceKm: 11800, TotalEmissions: 4300},
	{ID: "R005", VesselType: "Container", FuelType: "LNG", Year: 2025, GHGIntensity: 90.5, FuelConsumption: 4950, DistanceKm: 11900, TotalEmissions: 4400},
}

// SeedEntries are ledger entries loaded by Seed.
var SeedEntries = []models.LedgerEntry{
	{ShipID: "R002", Year: 2024, EntryType: models.EntryTypeBank, Amount: 300000},
	{ShipID: "R004", Year: 2025, EntryType: models.EntryTypeBank, Amount: 150000},
	{ShipID: "R003", Year: 2024, EntryType: models.EntryTypeApply, Amount: 50000},
}

// Seed loads the demonstration data into empty collections. Collections
// that already hold data are left untouched.
func Seed(ctx context.Context, store Store) error {
	routes, err := store.Routes().GetAll(ctx, models.RouteFilter{})
	if err != nil {
		return fmt.Errorf("failed to check routes: %w", err)
	}
	if len(routes) == 0 {
		if err := store.Routes().SaveAll(ctx, SeedRoutes); err != nil {
			return fmt.Errorf("failed to seed routes: %w", err)
		}
	}

	entries, err := store.Ledger().GetRecords(ctx, models.RecordFilter{})
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if len(entries) == 0 {
		for _, e := range SeedEntries {
			if err := store.Ledger().SaveRecord(ctx, e); err != nil {
				return fmt.Errorf("failed to seed ledger: %w", err)
			}
		}
	}
	return nil
}
