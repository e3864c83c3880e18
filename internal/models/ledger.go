package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the kind of a ledger entry.
type EntryType string

const (
	EntryTypeBank  EntryType = "bank"
	EntryTypeApply EntryType = "apply"
)

// LedgerEntry is an append-only banking record.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ShipID    string    `json:"shipId" db:"ship_id"`
	Year      int       `json:"year" db:"year"`
	EntryType EntryType `json:"entryType" db:"entry_type"`
	Amount    float64   `json:"amount" db:"amount_gco2eq"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// LedgerKey addresses a banked balance. A zero Year spans every period.
type LedgerKey struct {
	ShipID string
	Year   int
}

// RecordFilter narrows ledger entry listings.
type RecordFilter struct {
	ShipID string
	Year   int
}

// Matches reports whether e passes the filter.
func (f RecordFilter) Matches(e LedgerEntry) bool {
	if f.ShipID != "" && f.ShipID != e.ShipID {
		return false
	}
	if f.Year != 0 && f.Year != e.Year {
		return false
	}
	return true
}
