package domain

import "github.com/terminal-bench/mariscope/internal/models"

// ValidateRoute checks the field rules of a route record.
func ValidateRoute(r models.Route) error {
	if err := requireText(r.ID, "Route id"); err != nil {
		return err
	}
	if err := requireText(r.VesselType, "Vessel type"); err != nil {
		return err
	}
	if err := requireText(r.FuelType, "Fuel type"); err != nil {
		return err
	}
	if r.Year <= 0 {
		return validationf("Year must be a positive integer")
	}
	if err := requireNonNegative(r.GHGIntensity, "GHG intensity"); err != nil {
		return err
	}
	if err := requireNonNegative(r.FuelConsumption, "Fuel consumption"); err != nil {
		return err
	}
	if err := requireNonNegative(r.DistanceKm, "Distance"); err != nil {
		return err
	}
	return requireNonNegative(r.TotalEmissions, "Total emissions")
}

// CheckBaselines fails when any year holds more than one baseline route.
func CheckBaselines(routes []models.Route) error {
	baselines := make(map[int]string)
	for _, r := range routes {
		if !r.IsBaseline {
			continue
		}
		if other, ok := baselines[r.Year]; ok && other != r.ID {
			return validationf("Year %d already has baseline route %s", r.Year, other)
		}
		baselines[r.Year] = r.ID
	}
	return nil
}

// AssignBaseline decides the flag changes that make targetID the only
// baseline among routes of its year. Only routes whose flag changes are
// returned; routes of other years are never touched.
func AssignBaseline(routes []models.Route, targetID string) ([]models.Route, error) {
	year := 0
	for _, r := range routes {
		if r.ID == targetID {
			year = r.Year
			break
		}
	}
	if year == 0 {
		return nil, validationf("Baseline route %s is not among the candidate routes", targetID)
	}

	var changed []models.Route
	for _, r := range routes {
		if r.Year != year {
			continue
		}
		want := r.ID == targetID
		if r.IsBaseline != want {
			r.IsBaseline = want
			changed = append(changed, r)
		}
	}
	return changed, nil
}
