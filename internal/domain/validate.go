package domain

import (
	"math"
	"strings"
)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func requireNonNegative(v float64, field string) error {
	if !isFinite(v) || v < 0 {
		return validationf("%s must be a finite non-negative number", field)
	}
	return nil
}

func requirePositive(v float64, field string) error {
	if !isFinite(v) || v <= 0 {
		return validationf("%s must be a finite positive number", field)
	}
	return nil
}

func requireText(v, field string) error {
	if strings.TrimSpace(v) == "" {
		return validationf("%s must not be empty", field)
	}
	return nil
}
