package withdrawal

import (
	"context"
	"testing"

	"agency-engine/services/ledger"
	"agency-engine/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &PointWithdrawal{}, &ledger.Balance{}, &ledger.LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{
		db:     db,
		node:   node,
		ledger: ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
	}
}

func fund(t *testing.T, s *Service, userID string, amount int64) {
	t.Helper()
	_, err := s.ledger.Credit(context.Background(), s.db, ledger.EntryParams{
		UserID:      userID,
		Amount:      amount,
		ReferenceID: "fund:" + userID,
	})
	require.NoError(t, err)
}

func TestRequestHoldsAmount(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u-1", 500)

	record, err := s.Request(ctx, "u-1", 200, nil)
	require.NoError(t, err)
	require.Equal(t, string(StatusPending), record.Status)
	require.NotEmpty(t, record.Code)

	balance, err := s.ledger.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balance.Balance)
}

func TestRequestInsufficientBalanceLeavesNoRecord(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u-1", 100)

	_, err := s.Request(ctx, "u-1", 200, nil)
	require.Error(t, err)
	require.True(t, ledger.IsInsufficientBalance(err))

	records, err := s.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, records)

	balance, err := s.ledger.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)
}

func TestApproveLeavesBalanceAlone(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u-1", 500)

	record, err := s.Request(ctx, "u-1", 200, nil)
	require.NoError(t, err)

	approved, err := s.Approve(ctx, record.ID, "admin", "ok")
	require.NoError(t, err)
	require.Equal(t, string(StatusApproved), approved.Status)
	require.NotNil(t, approved.ProcessedAt)

	balance, err := s.ledger.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balance.Balance)
}

func TestRejectRestoresBalance(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u-1", 500)

	record, err := s.Request(ctx, "u-1", 200, nil)
	require.NoError(t, err)

	rejected, err := s.Reject(ctx, record.ID, "admin", "bank info mismatch")
	require.NoError(t, err)
	require.Equal(t, string(StatusRejected), rejected.Status)

	balance, err := s.ledger.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Balance)

	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, "bank info mismatch", got.Reason)
}

func TestDoubleProcessingConflicts(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	fund(t, s, "u-1", 500)

	record, err := s.Request(ctx, "u-1", 200, nil)
	require.NoError(t, err)

	_, err = s.Approve(ctx, record.ID, "admin", "")
	require.NoError(t, err)

	_, err = s.Reject(ctx, record.ID, "admin", "late change of mind")
	require.Error(t, err)

	// Terminal state and balance unchanged by the failed second transition.
	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, string(StatusApproved), got.Status)

	balance, err := s.ledger.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balance.Balance)
}

func TestUnknownWithdrawal(t *testing.T) {
	s := newTestService(t)

	_, err := s.Approve(context.Background(), "missing", "admin", "")
	require.Error(t, err)
}
