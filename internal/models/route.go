package models

// Route is one vessel's reporting-period record.
type Route struct {
	ID              string  `json:"routeId" db:"id"`
	VesselType      string  `json:"vesselType" db:"vessel_type"`
	FuelType        string  `json:"fuelType" db:"fuel_type"`
	Year            int     `json:"year" db:"year"`
	GHGIntensity    float64 `json:"ghgIntensity" db:"ghg_intensity_gco2e_per_mj"`
	FuelConsumption float64 `json:"fuelConsumption" db:"fuel_consumption_tonnes"`
	DistanceKm      float64 `json:"distance" db:"distance_km"`
	TotalEmissions  float64 `json:"totalEmissions" db:"total_emissions_tonnes"`
	IsBaseline      bool    `json:"isBaseline" db:"is_baseline"`
}

// RouteFilter narrows route listings. Zero values match everything.
type RouteFilter struct {
	VesselType string
	FuelType   string
	Year       int
}

// Matches reports whether r passes the filter.
func (f RouteFilter) Matches(r Route) bool {
	if f.VesselType != "" && f.VesselType != r.VesselType {
		return false
	}
	if f.FuelType != "" && f.FuelType != r.FuelType {
		return false
	}
	if f.Year != 0 && f.Year != r.Year {
		return false
	}
	return true
}
