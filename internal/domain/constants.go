package domain

const (
	// TargetIntensity2025 is the regulatory GHG intensity target in gCO2e/MJ.
	TargetIntensity2025 = 89.3368

	// EnergyFactorMJPerTonne converts fuel consumption to energy in scope.
	EnergyFactorMJPerTonne = 41000.0

	// Tolerance is the band around zero treated as neutral.
	Tolerance = 1e-6
)
