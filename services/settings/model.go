package settings

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type MasterType string

var (
	MasterTypeHeadquarters MasterType = "headquarters"
	MasterTypeStandard     MasterType = "standard"
	// MasterTypeBinary marks binary-network masters: every member has at most
	// two direct legs and qualification may require both.
	MasterTypeBinary MasterType = "binary"
)

func (t MasterType) String() string {
	switch t {
	case MasterTypeHeadquarters, MasterTypeStandard, MasterTypeBinary:
		return string(t)
	default:
		return ""
	}
}

type UseCondition string

var (
	ConditionMemberCount  UseCondition = "memberCount"
	ConditionChargeAmount UseCondition = "chargeAmount"
	ConditionUsageAmount  UseCondition = "usageAmount"
	ConditionBoth         UseCondition = "both"
)

func (c UseCondition) String() string {
	switch c {
	case ConditionMemberCount, ConditionChargeAmount, ConditionUsageAmount, ConditionBoth:
		return string(c)
	default:
		return ""
	}
}

// CommissionLevel maps a depth in the ancestor chain to the percentage of a
// revenue event credited at that depth.
type CommissionLevel struct {
	Level          int   `json:"level"`
	CommissionRate int64 `json:"commission_rate"`
}

// AutoQualification is the rule set governing automatic promotion of a direct
// downline member to an intermediate master role. A threshold of zero means
// "not required". Expression optionally overrides the built-in conditions
// with a CEL expression over member_count, charge_amount and usage_amount.
type AutoQualification struct {
	Enabled      bool         `json:"enabled"`
	MemberCount  int64        `json:"member_count"`
	ChargeAmount int64        `json:"charge_amount"`
	UsageAmount  int64        `json:"usage_amount"`
	UseCondition UseCondition `json:"use_condition"`
	Expression   string       `json:"expression,omitempty"`
}

// Settings is the decoded per-master configuration consumed by the
// eligibility evaluator and the distribution engine.
type Settings struct {
	MasterID          string            `json:"master_id"`
	MasterType        MasterType        `json:"master_type"`
	Levels            []CommissionLevel `json:"levels"`
	AutoQualification AutoQualification `json:"auto_qualification"`
	RequireBothLegs   bool              `json:"require_both_legs"`
}

// DefaultSettings is what Get returns for a master that has never been
// configured: a single level with zero commission and auto-qualification
// disabled. The distribution engine treats the unconfigured case as
// fail-closed instead; only admin surfaces see this default.
func DefaultSettings(masterID string) *Settings {
	return &Settings{
		MasterID:   masterID,
		MasterType: MasterTypeStandard,
		Levels: []CommissionLevel{
			{Level: 1, CommissionRate: 0},
		},
		AutoQualification: AutoQualification{Enabled: false},
	}
}

// AgencySettings is the persisted row. Levels and auto-qualification are
// stored as tagged JSON blobs, never open maps.
type AgencySettings struct {
	MasterID          string         `gorm:"column:master_id;primaryKey"`
	MasterType        string         `gorm:"column:master_type"`
	Levels            datatypes.JSON `gorm:"column:levels"`
	AutoQualification datatypes.JSON `gorm:"column:auto_qualification"`
	RequireBothLegs   bool           `gorm:"column:require_both_legs"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (AgencySettings) TableName() string {
	return "agency_settings"
}

func (m *AgencySettings) Decode() (*Settings, error) {
	s := &Settings{
		MasterID:        m.MasterID,
		MasterType:      MasterType(m.MasterType),
		RequireBothLegs: m.RequireBothLegs,
	}

	if len(m.Levels) > 0 {
		if err := json.Unmarshal(m.Levels, &s.Levels); err != nil {
			return nil, err
		}
	}

	if len(m.AutoQualification) > 0 {
		if err := json.Unmarshal(m.AutoQualification, &s.AutoQualification); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func encodeRow(s *Settings) (*AgencySettings, error) {
	levels, err := json.Marshal(s.Levels)
	if err != nil {
		return nil, err
	}

	autoQual, err := json.Marshal(s.AutoQualification)
	if err != nil {
		return nil, err
	}

	return &AgencySettings{
		MasterID:          s.MasterID,
		MasterType:        s.MasterType.String(),
		Levels:            datatypes.JSON(levels),
		AutoQualification: datatypes.JSON(autoQual),
		RequireBothLegs:   s.RequireBothLegs,
	}, nil
}
