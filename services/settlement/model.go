package settlement

import (
	"fmt"
	"time"
)

// SettlementID is the canonical id for the run of a given ISO week. It
// doubles as the idempotency key for Apply.
func SettlementID(year, week int) string {
	return fmt.Sprintf("WS-%04d-W%02d", year, week)
}

// WeeklySettlement is the header row of one applied week. A settlement id is
// applied at most once; re-running a week is a no-op.
type WeeklySettlement struct {
	ID        string     `gorm:"column:id;primaryKey"`
	Year      int        `gorm:"column:year"`
	Week      int        `gorm:"column:week"`
	Applied   bool       `gorm:"column:applied"`
	AppliedAt *time.Time `gorm:"column:applied_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (WeeklySettlement) TableName() string {
	return "weekly_settlements"
}

// SettlementDistribution is one recipient's total for the week. Zero-amount
// rows are kept for audit; only positive totals touch the ledger.
type SettlementDistribution struct {
	ID            string    `gorm:"column:id;primaryKey"`
	SettlementID  string    `gorm:"column:settlement_id;index"`
	UserID        string    `gorm:"column:user_id;index"`
	UserType      string    `gorm:"column:user_type"`
	GrantedAmount int64     `gorm:"column:granted_amount"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (SettlementDistribution) TableName() string {
	return "settlement_distributions"
}

// DistributionDetail breaks a recipient's total down by master scope and
// commission level.
type DistributionDetail struct {
	ID             string    `gorm:"column:id;primaryKey"`
	DistributionID string    `gorm:"column:distribution_id;index"`
	MasterID       string    `gorm:"column:master_id"`
	Level          int       `gorm:"column:level"`
	CommissionRate int64     `gorm:"column:commission_rate"`
	Amount         int64     `gorm:"column:amount"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (DistributionDetail) TableName() string {
	return "distribution_details"
}

type RunStatus string

var (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// SettlementRun is the job record of one pipeline execution, kept separately
// from the settlement itself so failed attempts stay visible.
type SettlementRun struct {
	ID               string     `gorm:"column:id;primaryKey"`
	SettlementID     string     `gorm:"column:settlement_id;index"`
	Status           string     `gorm:"column:status"`
	MastersProcessed int        `gorm:"column:masters_processed"`
	EventsProcessed  int        `gorm:"column:events_processed"`
	AnomalyCount     int        `gorm:"column:anomaly_count"`
	ReportObject     string     `gorm:"column:report_object"`
	Error            string     `gorm:"column:error"`
	StartedAt        time.Time  `gorm:"column:started_at"`
	FinishedAt       *time.Time `gorm:"column:finished_at"`
}

func (SettlementRun) TableName() string {
	return "settlement_runs"
}
