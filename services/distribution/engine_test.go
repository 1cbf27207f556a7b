package distribution

import (
	"context"
	"testing"
	"time"

	"agency-engine/services/referral"
	"agency-engine/services/settings"
	"agency-engine/services/testutil"

	"github.com/stretchr/testify/require"
)

// buildTree seeds a four-deep chain master -> u1 -> u2 -> source and returns
// the tree rooted at the master. u-1 is the master's direct downline, u-2
// sits one level below it.
func buildTree(t *testing.T) *referral.Tree {
	t.Helper()

	db := testutil.NewTestDB(t, &referral.User{})
	users := []referral.User{
		{ID: "u-master", Username: "master"},
		{ID: "u-1", Username: "u1", ReferredBy: "master"},
		{ID: "u-2", Username: "u2", ReferredBy: "u1"},
		{ID: "u-src", Username: "source", ReferredBy: "u2"},
	}
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	builder := referral.NewBuilder(referral.BuilderParams{DB: db})
	tree, err := builder.BuildTree(context.Background(), "u-master")
	require.NoError(t, err)

	return tree
}

func role(userID, roleType string, level int) *referral.AgencyRole {
	return &referral.AgencyRole{UserID: userID, MasterID: "m-1", Role: roleType, Level: level, Active: true}
}

func twoLevelSettings(rate1, rate2 int64) *settings.Settings {
	return &settings.Settings{
		MasterID: "m-1",
		Levels: []settings.CommissionLevel{
			{Level: 1, CommissionRate: rate1},
			{Level: 2, CommissionRate: rate2},
		},
	}
}

// The rate an ancestor earns follows the level of their role under this
// master, not their distance from the revenue source: the master's level-1
// downline earns the level-1 rate even though it is the ancestor furthest
// from the source.
func TestDistributePaysByRoleLevel(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
		"u-2": role("u-2", "AGENCY", 2),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(10, 5), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 1000, Status: string(EventConfirmed)},
	})

	require.Empty(t, res.Anomalies)
	require.True(t, res.Matched["ev-1"])
	require.Len(t, res.Distributions, 2)

	// Sorted by user id: u-1 before u-2.
	require.Equal(t, "u-1", res.Distributions[0].UserID)
	require.Equal(t, int64(100), res.Distributions[0].GrantedAmount)
	require.Equal(t, 1, res.Distributions[0].Details[0].Level)

	require.Equal(t, "u-2", res.Distributions[1].UserID)
	require.Equal(t, int64(50), res.Distributions[1].GrantedAmount)
	require.Equal(t, 2, res.Distributions[1].Details[0].Level)
}

func TestDistributeIgnoresAncestorsWithoutRole(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	// u-1 holds no role: it earns nothing, and u-2 still earns its own
	// level-2 rate rather than inheriting level 1.
	roles := map[string]*referral.AgencyRole{
		"u-2": role("u-2", "AGENCY", 2),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(10, 5), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 1000, Status: string(EventConfirmed)},
	})

	require.Len(t, res.Distributions, 1)
	require.Equal(t, "u-2", res.Distributions[0].UserID)
	require.Equal(t, int64(50), res.Distributions[0].GrantedAmount)
	require.Equal(t, 2, res.Distributions[0].Details[0].Level)
}

func TestDistributeClampsRateOverflow(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
		"u-2": role("u-2", "AGENCY", 2),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(60, 60), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 100, Status: string(EventConfirmed)},
	})

	var total int64
	for _, d := range res.Distributions {
		total += d.GrantedAmount
	}
	require.Equal(t, int64(100), total, "payout must never exceed the event amount")

	require.Len(t, res.Anomalies, 1)
	require.Equal(t, AnomalyRateOverflow, res.Anomalies[0].Kind)
	require.Equal(t, "ev-1", res.Anomalies[0].EventID)

	// Ancestors are paid nearest-first: u-2 in full, u-1 clamped.
	require.Equal(t, int64(40), res.Distributions[0].GrantedAmount)
	require.Equal(t, int64(60), res.Distributions[1].GrantedAmount)
}

func TestDistributeTruncatesTowardZero(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(10, 5), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 105, Status: string(EventConfirmed)},
	})

	require.Equal(t, int64(10), res.Distributions[0].GrantedAmount)
	require.Equal(t, int64(50), res.FloorLossHundredths)
}

func TestDistributeFloorLossExcludesClampedShares(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
		"u-2": role("u-2", "AGENCY", 2),
	}

	// u-2 earns 60 of 60.60 (loss 60 hundredths); u-1's 50.50 is clamped to
	// the remaining 41, which is overflow, not truncation.
	res := engine.Distribute(context.Background(), twoLevelSettings(50, 60), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 101, Status: string(EventConfirmed)},
	})

	var total int64
	for _, d := range res.Distributions {
		total += d.GrantedAmount
	}
	require.Equal(t, int64(101), total)
	require.Len(t, res.Anomalies, 1)
	require.Equal(t, int64(60), res.FloorLossHundredths)
}

func TestDistributeIgnoresUnmatchedAndUnconfirmed(t *testing.T) {
	tree := buildTree(t)
	engine := &Engine{maxDepth: 20}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(10, 5), tree, roles, []RevenueEvent{
		{ID: "ev-outside", SourceUserID: "u-elsewhere", Amount: 1000, Status: string(EventConfirmed)},
		{ID: "ev-pending", SourceUserID: "u-src", Amount: 1000, Status: string(EventPending)},
	})

	require.Empty(t, res.Distributions)
	require.False(t, res.Matched["ev-outside"])
	require.False(t, res.Matched["ev-pending"])
}

func TestDistributeDepthBound(t *testing.T) {
	tree := buildTree(t)
	// Chain from source is u-2, u-1, master; depth 1 reaches only u-2.
	engine := &Engine{maxDepth: 1}

	roles := map[string]*referral.AgencyRole{
		"u-1": role("u-1", "AGENCY", 1),
		"u-2": role("u-2", "AGENCY", 2),
	}

	res := engine.Distribute(context.Background(), twoLevelSettings(10, 5), tree, roles, []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-src", Amount: 1000, Status: string(EventConfirmed)},
	})

	require.Len(t, res.Distributions, 1)
	require.Equal(t, "u-2", res.Distributions[0].UserID)
	require.Equal(t, int64(50), res.Distributions[0].GrantedAmount)
}

func TestStoreWindowQuery(t *testing.T) {
	db := testutil.NewTestDB(t, &RevenueEvent{})
	store := &Store{db: db}

	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	events := []RevenueEvent{
		{ID: "ev-1", SourceUserID: "u-1", Amount: 100, Status: string(EventConfirmed), OccurredAt: base.Add(time.Hour)},
		{ID: "ev-2", SourceUserID: "u-1", Amount: 200, Status: string(EventPending), OccurredAt: base.Add(2 * time.Hour)},
		{ID: "ev-3", SourceUserID: "u-2", Amount: 300, Status: string(EventConfirmed), OccurredAt: base.Add(8 * 24 * time.Hour)},
	}
	for i := range events {
		require.NoError(t, db.Create(&events[i]).Error)
	}

	got, err := store.ConfirmedInWindow(context.Background(), base, base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ev-1", got[0].ID)
}
