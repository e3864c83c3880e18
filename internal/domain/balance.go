package domain

import "github.com/terminal-bench/mariscope/internal/models"

// ComplianceInput holds the figures a compliance balance is derived from.
// A nil Target falls back to TargetIntensity2025.
type ComplianceInput struct {
	Target          *float64
	Actual          float64
	FuelConsumption float64
}

// Calculate computes the compliance balance for the given input.
func Calculate(in ComplianceInput) (models.ComplianceResult, error) {
	target := TargetIntensity2025
	if in.Target != nil {
		target = *in.Target
	}

	if err := requirePositive(target, "Target intensity"); err != nil {
		return models.ComplianceResult{}, err
	}
	if err := requireNonNegative(in.Actual, "Actual intensity"); err != nil {
		return models.ComplianceResult{}, err
	}
	if err := requireNonNegative(in.FuelConsumption, "Fuel consumption"); err != nil {
		return models.ComplianceResult{}, err
	}

	energy := in.FuelConsumption * EnergyFactorMJPerTonne

	return models.ComplianceResult{
		TargetIntensity:   target,
		ActualIntensity:   in.Actual,
		FuelConsumption:   in.FuelConsumption,
		EnergyInScopeMJ:   energy,
		ComplianceBalance: (target - in.Actual) * energy,
	}, nil
}

// CalculateForRoute computes the compliance balance from a route's measured
// intensity and fuel consumption.
func CalculateForRoute(route models.Route, target *float64) (models.ComplianceResult, error) {
	return Calculate(ComplianceInput{
		Target:          target,
		Actual:          route.GHGIntensity,
		FuelConsumption: route.FuelConsumption,
	})
}

// IsSurplus reports whether balance is above the neutral band.
func IsSurplus(balance float64) bool {
	return balance > Tolerance
}

// IsDeficit reports whether balance is below the neutral band.
func IsDeficit(balance float64) bool {
	return balance < -Tolerance
}
