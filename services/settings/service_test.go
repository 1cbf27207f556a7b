package settings

import (
	"context"
	"testing"

	"agency-engine/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return &Service{db: testutil.NewTestDB(t, &AgencySettings{})}
}

func validSettings() *Settings {
	return &Settings{
		MasterType: MasterTypeStandard,
		Levels: []CommissionLevel{
			{Level: 1, CommissionRate: 10},
			{Level: 2, CommissionRate: 5},
		},
	}
}

func TestGetUnconfiguredReturnsDefault(t *testing.T) {
	s := newTestService(t)

	cfg, found, err := s.Get(context.Background(), "m-1")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, "m-1", cfg.MasterID)
	require.Len(t, cfg.Levels, 1)
	require.Equal(t, int64(0), cfg.Levels[0].CommissionRate)
	require.False(t, cfg.AutoQualification.Enabled)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	in := validSettings()
	in.AutoQualification = AutoQualification{
		Enabled:      true,
		MemberCount:  5,
		UseCondition: ConditionMemberCount,
	}
	require.NoError(t, s.Put(ctx, "m-1", in))

	cfg, found, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in.Levels, cfg.Levels)
	require.Equal(t, in.AutoQualification, cfg.AutoQualification)

	// Put is an upsert: storing again replaces, not duplicates.
	in.Levels = []CommissionLevel{{Level: 1, CommissionRate: 20}}
	require.NoError(t, s.Put(ctx, "m-1", in))

	cfg, _, err = s.Get(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, cfg.Levels, 1)
	require.Equal(t, int64(20), cfg.Levels[0].CommissionRate)

	ids, err := s.ListMasterIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"m-1"}, ids)
}

func TestValidateRejectsBadLevels(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no levels", func(s *Settings) { s.Levels = nil }},
		{"level below one", func(s *Settings) { s.Levels[0].Level = 0 }},
		{"duplicate level", func(s *Settings) { s.Levels[1].Level = 1 }},
		{"rate above 100", func(s *Settings) { s.Levels[0].CommissionRate = 101 }},
		{"negative rate", func(s *Settings) { s.Levels[0].CommissionRate = -1 }},
		{"unknown master type", func(s *Settings) { s.MasterType = "pyramid" }},
		{"both legs on standard", func(s *Settings) { s.RequireBothLegs = true }},
		{"negative threshold", func(s *Settings) {
			s.AutoQualification = AutoQualification{Enabled: true, MemberCount: -1, UseCondition: ConditionMemberCount}
		}},
		{"enabled without condition", func(s *Settings) {
			s.AutoQualification = AutoQualification{Enabled: true}
		}},
		{"broken expression", func(s *Settings) {
			s.AutoQualification = AutoQualification{Enabled: true, Expression: "member_count >"}
		}},
		{"non-boolean expression", func(s *Settings) {
			s.AutoQualification = AutoQualification{Enabled: true, Expression: "member_count + 1"}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validSettings()
			tc.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAcceptsBinaryBothLegs(t *testing.T) {
	cfg := validSettings()
	cfg.MasterType = MasterTypeBinary
	cfg.RequireBothLegs = true
	cfg.AutoQualification = AutoQualification{
		Enabled:      true,
		MemberCount:  3,
		UseCondition: ConditionMemberCount,
	}
	require.NoError(t, Validate(cfg))
}

func TestValidateAcceptsExpression(t *testing.T) {
	cfg := validSettings()
	cfg.AutoQualification = AutoQualification{
		Enabled:    true,
		Expression: "member_count >= 5 && charge_amount > 10000",
	}
	require.NoError(t, Validate(cfg))
}
