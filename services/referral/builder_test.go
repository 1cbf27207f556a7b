package referral

import (
	"context"
	"testing"

	"agency-engine/services/testutil"

	"github.com/stretchr/testify/require"
)

func seedUsers(t *testing.T, users ...User) *Builder {
	t.Helper()

	db := testutil.NewTestDB(t, &User{}, &AgencyRole{})
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	return &Builder{db: db}
}

func TestBuildTreeShape(t *testing.T) {
	b := seedUsers(t,
		User{ID: "u-root", Username: "root"},
		User{ID: "u-a", Username: "alice", ReferredBy: "root"},
		User{ID: "u-b", Username: "bob", ReferredBy: "root"},
		User{ID: "u-c", Username: "carol", ReferredBy: "alice"},
		User{ID: "u-x", Username: "stranger"}, // unrelated root, must not appear
	)

	tree, err := b.BuildTree(context.Background(), "u-root")
	require.NoError(t, err)
	require.Empty(t, tree.Issues)

	require.Equal(t, "root", tree.Root.Username)
	require.Len(t, tree.Root.Children, 2)
	require.Len(t, tree.Index, 4)
	require.NotContains(t, tree.Index, "stranger")

	alice := tree.Index["alice"]
	require.NotNil(t, alice)
	require.Len(t, alice.Children, 1)
	require.Equal(t, "carol", alice.Children[0].Username)
}

func TestBuildTreeUnknownRoot(t *testing.T) {
	b := seedUsers(t, User{ID: "u-root", Username: "root"})

	_, err := b.BuildTree(context.Background(), "u-missing")
	require.Error(t, err)
}

func TestBuildTreeCyclicDataTerminates(t *testing.T) {
	// root and eve refer to each other. The build must terminate, keep the
	// intact part of the tree and surface the truncation.
	b := seedUsers(t,
		User{ID: "u-root", Username: "root", ReferredBy: "eve"},
		User{ID: "u-e", Username: "eve", ReferredBy: "root"},
		User{ID: "u-a", Username: "alice", ReferredBy: "eve"},
	)

	tree, err := b.BuildTree(context.Background(), "u-root")
	require.NoError(t, err)

	require.Len(t, tree.Root.Children, 1)
	eve := tree.Root.Children[0]
	require.Equal(t, "eve", eve.Username)

	// eve's children contain root again; that branch is dropped, alice kept.
	require.Len(t, eve.Children, 1)
	require.Equal(t, "alice", eve.Children[0].Username)

	require.Len(t, tree.Issues, 1)
	require.Equal(t, "root", tree.Issues[0].Username)
	require.Equal(t, "eve", tree.Issues[0].ReferredBy)
}

func TestAncestorChain(t *testing.T) {
	b := seedUsers(t,
		User{ID: "u-root", Username: "root"},
		User{ID: "u-a", Username: "alice", ReferredBy: "root"},
		User{ID: "u-b", Username: "bob", ReferredBy: "alice"},
		User{ID: "u-c", Username: "carol", ReferredBy: "bob"},
	)

	tree, err := b.BuildTree(context.Background(), "u-root")
	require.NoError(t, err)

	chain := tree.AncestorChain("carol", 10)
	require.Len(t, chain, 3)
	require.Equal(t, "bob", chain[0].Username)
	require.Equal(t, "alice", chain[1].Username)
	require.Equal(t, "root", chain[2].Username)

	bounded := tree.AncestorChain("carol", 2)
	require.Len(t, bounded, 2)
	require.Equal(t, "bob", bounded[0].Username)
	require.Equal(t, "alice", bounded[1].Username)

	require.Empty(t, tree.AncestorChain("root", 10))
	require.Empty(t, tree.AncestorChain("nobody", 10))
}

func TestAggregate(t *testing.T) {
	b := seedUsers(t,
		User{ID: "u-root", Username: "root"},
		User{ID: "u-a", Username: "alice", ReferredBy: "root"},
		User{ID: "u-b", Username: "bob", ReferredBy: "alice"},
		User{ID: "u-c", Username: "carol", ReferredBy: "alice"},
	)

	tree, err := b.BuildTree(context.Background(), "u-root")
	require.NoError(t, err)

	tree.Aggregate(map[string]Amounts{
		"root":  {ChargeAmount: 10, UsageAmount: 1},
		"alice": {ChargeAmount: 100, UsageAmount: 2},
		"bob":   {ChargeAmount: 1000, UsageAmount: 4},
		"carol": {ChargeAmount: 10000, UsageAmount: 8},
	})

	// Member count excludes the node itself; amounts include it.
	alice := tree.Index["alice"]
	require.Equal(t, int64(2), alice.Metrics.MemberCount)
	require.Equal(t, int64(11100), alice.Metrics.ChargeAmount)
	require.Equal(t, int64(14), alice.Metrics.UsageAmount)

	require.Equal(t, int64(3), tree.Root.Metrics.MemberCount)
	require.Equal(t, int64(11110), tree.Root.Metrics.ChargeAmount)
	require.Equal(t, int64(15), tree.Root.Metrics.UsageAmount)

	leaf := tree.Index["bob"]
	require.Equal(t, int64(0), leaf.Metrics.MemberCount)
	require.Equal(t, int64(1000), leaf.Metrics.ChargeAmount)
}
