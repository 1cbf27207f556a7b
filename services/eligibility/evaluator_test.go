package eligibility_test

import (
	"context"
	"testing"

	"agency-engine/services/eligibility"
	"agency-engine/services/referral"
	"agency-engine/services/settings"
	"agency-engine/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func metrics(members, charge, usage int64) *referral.Node {
	return &referral.Node{Metrics: referral.Metrics{
		MemberCount:  members,
		ChargeAmount: charge,
		UsageAmount:  usage,
	}}
}

func TestQualifiesMemberCount(t *testing.T) {
	cfg := &settings.Settings{
		MasterID: "m-1",
		AutoQualification: settings.AutoQualification{
			Enabled:      true,
			MemberCount:  5,
			UseCondition: settings.ConditionMemberCount,
		},
	}

	ok, err := eligibility.Qualifies(cfg, metrics(4, 0, 0))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = eligibility.Qualifies(cfg, metrics(5, 0, 0))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQualifiesDisabled(t *testing.T) {
	cfg := &settings.Settings{
		MasterID: "m-1",
		AutoQualification: settings.AutoQualification{
			Enabled:      false,
			MemberCount:  1,
			UseCondition: settings.ConditionMemberCount,
		},
	}

	ok, err := eligibility.Qualifies(cfg, metrics(100, 100, 100))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQualifiesBothZeroThresholdNotRequired(t *testing.T) {
	cfg := &settings.Settings{
		MasterID: "m-1",
		AutoQualification: settings.AutoQualification{
			Enabled:      true,
			MemberCount:  3,
			ChargeAmount: 0, // not required
			UsageAmount:  50,
			UseCondition: settings.ConditionBoth,
		},
	}

	ok, err := eligibility.Qualifies(cfg, metrics(3, 0, 50))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eligibility.Qualifies(cfg, metrics(3, 0, 49))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQualifiesExpressionOverride(t *testing.T) {
	cfg := &settings.Settings{
		MasterID: "m-1",
		AutoQualification: settings.AutoQualification{
			Enabled: true,
			// Thresholds are ignored once an expression is set.
			MemberCount: 100,
			Expression:  "member_count >= 2 && charge_amount > 1000",
		},
	}

	ok, err := eligibility.Qualifies(cfg, metrics(2, 1001, 0))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eligibility.Qualifies(cfg, metrics(2, 1000, 0))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQualifiesBothLegs(t *testing.T) {
	cfg := &settings.Settings{
		MasterID:        "m-1",
		MasterType:      settings.MasterTypeBinary,
		RequireBothLegs: true,
		AutoQualification: settings.AutoQualification{
			Enabled:      true,
			MemberCount:  2,
			UseCondition: settings.ConditionMemberCount,
		},
	}

	node := metrics(10, 0, 0)
	node.Children = []*referral.Node{metrics(1, 0, 0), metrics(1, 0, 0)}

	// Each leg head counts toward its own leg: 1 descendant + head = 2.
	ok, err := eligibility.Qualifies(cfg, node)
	require.NoError(t, err)
	require.True(t, ok)

	node.Children[1] = metrics(0, 0, 0)
	ok, err = eligibility.Qualifies(cfg, node)
	require.NoError(t, err)
	require.False(t, ok)

	// A single leg never qualifies regardless of size.
	node.Children = node.Children[:1]
	ok, err = eligibility.Qualifies(cfg, node)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateMasterPromotesOnce(t *testing.T) {
	db := testutil.NewTestDB(t, &referral.User{}, &referral.AgencyRole{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	users := []referral.User{
		{ID: "u-master", Username: "master"},
		{ID: "u-a", Username: "alice", ReferredBy: "master"},
		{ID: "u-a1", Username: "a1", ReferredBy: "alice"},
		{ID: "u-a2", Username: "a2", ReferredBy: "alice"},
		{ID: "u-b", Username: "bob", ReferredBy: "master"},
	}
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	roles := referral.NewService(referral.ServiceParams{DB: db, Node: node})
	builder := referral.NewBuilder(referral.BuilderParams{DB: db})
	evaluator := eligibility.NewEvaluator(eligibility.EvaluatorParams{Roles: roles})

	cfg := &settings.Settings{
		MasterID: "m-1",
		Levels: []settings.CommissionLevel{
			{Level: 1, CommissionRate: 10},
			{Level: 2, CommissionRate: 5},
		},
		AutoQualification: settings.AutoQualification{
			Enabled:      true,
			MemberCount:  2,
			UseCondition: settings.ConditionMemberCount,
		},
	}

	ctx := context.Background()
	tree, err := builder.BuildTree(ctx, "u-master")
	require.NoError(t, err)
	tree.Aggregate(nil)

	promoted, err := evaluator.EvaluateMaster(ctx, cfg, tree)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.Equal(t, "u-a", promoted[0].UserID)
	require.Equal(t, 2, promoted[0].Level)
	require.Equal(t, int64(5), promoted[0].CommissionRate)

	role, err := roles.ActiveRole(ctx, "m-1", "u-a")
	require.NoError(t, err)
	require.NotNil(t, role)
	require.Equal(t, "AGENCY", role.Role)

	// Re-running promotes nobody new; existing roles survive even if the
	// thresholds would no longer be met.
	promoted, err = evaluator.EvaluateMaster(ctx, cfg, tree)
	require.NoError(t, err)
	require.Empty(t, promoted)

	role, err = roles.ActiveRole(ctx, "m-1", "u-a")
	require.NoError(t, err)
	require.NotNil(t, role)
	require.True(t, role.Active)
}
