package withdrawal

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

var (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// PointWithdrawal is a request to move settled points out of the system. The
// amount is held by a ledger debit at request time, so a pending withdrawal
// can never be spent twice; a rejection credits it back.
type PointWithdrawal struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Code        string         `gorm:"column:code;uniqueIndex"`
	UserID      string         `gorm:"column:user_id;index"`
	Amount      int64          `gorm:"column:amount"`
	Status      string         `gorm:"column:status;index"`
	BankInfo    datatypes.JSON `gorm:"column:bank_info"`
	Memo        string         `gorm:"column:memo"`
	Reason      string         `gorm:"column:reason"`
	ProcessedBy string         `gorm:"column:processed_by"`
	RequestedAt time.Time      `gorm:"column:requested_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at"`
}

func (PointWithdrawal) TableName() string {
	return "point_withdrawals"
}
