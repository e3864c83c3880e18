package domain

import (
	"math"
	"sort"
	"strings"

	"github.com/terminal-bench/mariscope/internal/models"
)

// PoolMemberBalance is a ship's poolable compliance balance.
type PoolMemberBalance struct {
	ShipID            string
	ComplianceBalance float64
}

type poolSlot struct {
	shipID string
	before float64
	after  float64
}

func validatePoolInput(members []PoolMemberBalance) error {
	if len(members) == 0 {
		return validationf("Pool must include at least one ship")
	}

	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if strings.TrimSpace(m.ShipID) == "" {
			return validationf("Ship id must not be empty")
		}
		if _, dup := seen[m.ShipID]; dup {
			return validationf("Duplicate ship id in pool: %s", m.ShipID)
		}
		seen[m.ShipID] = struct{}{}

		if !isFinite(m.ComplianceBalance) {
			return validationf("Ship compliance balance must be finite for ship %s", m.ShipID)
		}
	}
	return nil
}

// CreatePool redistributes compliance balance across members. Deficits are
// settled most-negative first, each drawing from the largest surpluses
// first. The result keeps the input order.
func CreatePool(members []PoolMemberBalance) ([]models.PoolMember, error) {
	if err := validatePoolInput(members); err != nil {
		return nil, err
	}

	var total float64
	for _, m := range members {
		total += m.ComplianceBalance
	}
	if total < -Tolerance {
		return nil, validationf("Pool cannot be created when total compliance balance is negative")
	}

	slots := make([]*poolSlot, len(members))
	var deficits, surpluses []*poolSlot
	for i, m := range members {
		s := &poolSlot{shipID: m.ShipID, before: m.ComplianceBalance, after: m.ComplianceBalance}
		slots[i] = s
		switch {
		case IsDeficit(s.after):
			deficits = append(deficits, s)
		case IsSurplus(s.after):
			surpluses = append(surpluses, s)
		}
	}

	sort.SliceStable(deficits, func(i, j int) bool { return deficits[i].after < deficits[j].after })
	sort.SliceStable(surpluses, func(i, j int) bool { return surpluses[i].after > surpluses[j].after })

	for _, d := range deficits {
		remaining := math.Abs(d.after)
		for _, s := range surpluses {
			if remaining <= Tolerance {
				break
			}
			if s.after <= Tolerance {
				continue
			}
			transfer := math.Min(remaining, s.after)
			s.after -= transfer
			d.after += transfer
			remaining -= transfer
		}
	}

	for _, s := range slots {
		if IsDeficit(s.before) && s.after+Tolerance < s.before {
			return nil, &AllocationError{ShipID: s.shipID, Reason: "deficit ship cannot exit worse"}
		}
		if IsSurplus(s.before) && s.after < -Tolerance {
			return nil, &AllocationError{ShipID: s.shipID, Reason: "surplus ship cannot exit negative"}
		}
	}

	out := make([]models.PoolMember, len(slots))
	for i, s := range slots {
		after := s.after
		if math.Abs(after) < Tolerance {
			after = 0
		}
		out[i] = models.PoolMember{ShipID: s.shipID, BalanceBefore: s.before, BalanceAfter: after}
	}
	return out, nil
}

// PoolSums returns the summed balances before and after pooling.
func PoolSums(members []models.PoolMember) (before, after float64) {
	for _, m := range members {
		before += m.BalanceBefore
		after += m.BalanceAfter
	}
	return before, after
}
