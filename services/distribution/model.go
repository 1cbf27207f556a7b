package distribution

import (
	"time"
)

type EventStatus string

var (
	EventConfirmed EventStatus = "CONFIRMED"
	EventPending   EventStatus = "PENDING"
	EventVoided    EventStatus = "VOIDED"
)

type EventKind string

var (
	// KindCharge is money entering the pool; only charges are distributed.
	KindCharge EventKind = "CHARGE"
	// KindUsage is consumption; it feeds qualification metrics only.
	KindUsage EventKind = "USAGE"
)

// RevenueEvent is one entry of the external revenue-pool feed. Only
// confirmed events participate in distribution.
type RevenueEvent struct {
	ID           string    `gorm:"column:id;primaryKey"`
	SourceUserID string    `gorm:"column:source_user_id;index"`
	Kind         string    `gorm:"column:kind"`
	Amount       int64     `gorm:"column:amount"`
	Status       string    `gorm:"column:status;index"`
	OccurredAt   time.Time `gorm:"column:occurred_at;index"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RevenueEvent) TableName() string {
	return "revenue_events"
}

// Detail is one level's share of one or more events, attributed to a master
// scope.
type Detail struct {
	MasterID       string `json:"master_id"`
	Level          int    `json:"level"`
	CommissionRate int64  `json:"commission_rate"`
	Amount         int64  `json:"amount"`
}

// Distribution aggregates everything one recipient earns in a window.
type Distribution struct {
	UserID        string   `json:"user_id"`
	UserType      string   `json:"user_type"`
	GrantedAmount int64    `json:"granted_amount"`
	Details       []Detail `json:"details"`
}

type AnomalyKind string

var (
	// AnomalyRateOverflow marks an event whose summed level rates exceeded
	// 100%; payout was clamped at the event amount.
	AnomalyRateOverflow AnomalyKind = "RATE_OVERFLOW"
	// AnomalyIncompleteRevenueData marks an event whose source user could not
	// be resolved to any processed tree; it contributed nothing.
	AnomalyIncompleteRevenueData AnomalyKind = "INCOMPLETE_REVENUE_DATA"
	// AnomalyConfigMissing marks a master skipped because it has no stored
	// settings; the engine fails closed rather than guessing rates.
	AnomalyConfigMissing AnomalyKind = "CONFIG_MISSING"
)

// Anomaly is a non-fatal irregularity observed while distributing. Anomalies
// are reported and logged; they never abort a run.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	EventID  string      `json:"event_id,omitempty"`
	MasterID string      `json:"master_id,omitempty"`
	Detail   string      `json:"detail"`
}
