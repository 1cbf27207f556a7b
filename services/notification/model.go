package notification

import (
	"time"

	"gorm.io/datatypes"
)

var (
	TypeSettlementCredited  = "SETTLEMENT_CREDITED"
	TypeWithdrawalRequested = "WITHDRAWAL_REQUESTED"
	TypeWithdrawalApproved  = "WITHDRAWAL_APPROVED"
	TypeWithdrawalRejected  = "WITHDRAWAL_REJECTED"
)

type Notification struct {
	ID           string         `gorm:"column:id;primaryKey"`
	RecipientID  string         `gorm:"column:recipient_id;index"`
	Type         string         `gorm:"column:type"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	DispatchedAt *time.Time     `gorm:"column:dispatched_at"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
