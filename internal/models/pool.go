package models

import (
	"time"

	"github.com/google/uuid"
)

// PoolMember is one ship's balance before and after pooling.
type PoolMember struct {
	ShipID        string  `json:"shipId" db:"ship_id"`
	BalanceBefore float64 `json:"cbBefore" db:"cb_before"`
	BalanceAfter  float64 `json:"cbAfter" db:"cb_after"`
}

// Pool is an immutable record of one pooling run.
type Pool struct {
	ID        uuid.UUID    `json:"poolId" db:"id"`
	Year      int          `json:"year" db:"year"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
	Members   []PoolMember `json:"members"`
}
