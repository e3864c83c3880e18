package models

import "time"

// ComplianceResult is the outcome of a compliance balance calculation.
type ComplianceResult struct {
	TargetIntensity   float64 `json:"targetIntensityGco2ePerMj"`
	ActualIntensity   float64 `json:"actualIntensityGco2ePerMj"`
	FuelConsumption   float64 `json:"fuelConsumptionTonnes"`
	EnergyInScopeMJ   float64 `json:"energyInScopeMj"`
	ComplianceBalance float64 `json:"cb"`
}

// ComplianceRecord is a cached result for one ship and year.
type ComplianceRecord struct {
	ShipID     string           `json:"shipId" db:"ship_id"`
	Year       int              `json:"year" db:"year"`
	Result     ComplianceResult `json:"result"`
	ComputedAt time.Time        `json:"computedAt" db:"computed_at"`
}

// ComplianceFilter narrows compliance record listings.
type ComplianceFilter struct {
	ShipID string
	Year   int
}
