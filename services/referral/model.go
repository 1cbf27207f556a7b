package referral

import (
	"time"
)

// User is the flat persisted record the referral hierarchy is derived from.
// The hierarchy itself is never persisted; it is rebuilt per settlement run
// from the referred_by back-references.
type User struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Username   string    `gorm:"column:username;uniqueIndex"`
	ReferredBy string    `gorm:"column:referred_by;index"`
	TeamMaster string    `gorm:"column:team_master"`
	UserRole   string    `gorm:"column:user_role"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}

type RoleType string

var (
	RoleHeadquarters RoleType = "HEADQUARTERS"
	RoleRegional     RoleType = "REGIONAL"
	RoleAgency       RoleType = "AGENCY"
	RoleMember       RoleType = "MEMBER"
)

func (r RoleType) String() string {
	switch r {
	case RoleHeadquarters, RoleRegional, RoleAgency, RoleMember:
		return string(r)
	default:
		return ""
	}
}

// AgencyRole binds a user to a commission level under one master's scope.
// A user may hold roles under multiple masters. Rows are superseded, never
// deleted; only the active row per (user, master) participates in
// distribution.
type AgencyRole struct {
	ID             string     `gorm:"column:id;primaryKey"`
	UserID         string     `gorm:"column:user_id;index:idx_agency_roles_user_master"`
	MasterID       string     `gorm:"column:master_id;index:idx_agency_roles_user_master"`
	Role           string     `gorm:"column:role"`
	Level          int        `gorm:"column:level"`
	CommissionRate int64      `gorm:"column:commission_rate"`
	Active         bool       `gorm:"column:active"`
	SupersededAt   *time.Time `gorm:"column:superseded_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (AgencyRole) TableName() string {
	return "agency_roles"
}

// Metrics are the trailing-window aggregates of a node's subtree, fed to the
// eligibility evaluator.
type Metrics struct {
	MemberCount  int64 `json:"member_count"`
	ChargeAmount int64 `json:"charge_amount"`
	UsageAmount  int64 `json:"usage_amount"`
}

// Amounts carries one user's own charge/usage totals for the window before
// subtree aggregation.
type Amounts struct {
	ChargeAmount int64
	UsageAmount  int64
}

// Node is a transient tree node valid only for the build that produced it.
// Children are owned by the build; parents are referenced through ReferredBy
// by key, never by back-pointer, so a malformed graph can never produce
// cyclic ownership.
type Node struct {
	UserID     string   `json:"user_id"`
	Username   string   `json:"username"`
	ReferredBy string   `json:"referred_by,omitempty"`
	TeamMaster string   `json:"team_master,omitempty"`
	UserRole   string   `json:"user_role,omitempty"`
	Children   []*Node  `json:"children,omitempty"`
	Metrics    Metrics  `json:"metrics"`
	own        Amounts
}

// IntegrityIssue records a referral branch that had to be truncated during a
// build, for offline reconciliation.
type IntegrityIssue struct {
	Username   string `json:"username"`
	ReferredBy string `json:"referred_by"`
	Detail     string `json:"detail"`
}
