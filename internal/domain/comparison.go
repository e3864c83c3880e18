package domain

// Comparison is the deviation of one intensity from a baseline.
type Comparison struct {
	BaselineIntensity   float64 `json:"baselineIntensity"`
	ComparisonIntensity float64 `json:"comparisonIntensity"`
	PercentDiff         float64 `json:"percentDiff"`
	Compliant           bool    `json:"compliant"`
}

// Compare computes the percentage deviation of comparison from baseline.
// Compliance is judged against the regulatory target, not the baseline.
func Compare(baseline, comparison float64) (Comparison, error) {
	if err := requirePositive(baseline, "Baseline intensity"); err != nil {
		return Comparison{}, err
	}
	if err := requirePositive(comparison, "Comparison intensity"); err != nil {
		return Comparison{}, err
	}

	return Comparison{
		BaselineIntensity:   baseline,
		ComparisonIntensity: comparison,
		PercentDiff:         (comparison/baseline - 1) * 100,
		Compliant:           comparison <= TargetIntensity2025,
	}, nil
}
