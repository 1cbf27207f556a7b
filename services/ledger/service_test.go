package ledger

import (
	"context"
	"fmt"
	"testing"

	"agency-engine/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Balance{}, &LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{db: db, node: node}
}

type fakeSequence struct {
	calls int
}

func (f *fakeSequence) NextTransactionCode(_ context.Context, scope string) (string, error) {
	f.calls++
	return fmt.Sprintf("TXN-%s-%03d", scope, f.calls), nil
}

func (f *fakeSequence) NextWithdrawalCode(_ context.Context, userID string) (string, error) {
	return "WDR-" + userID, nil
}

func (f *fakeSequence) NextSettlementCode(_ context.Context, year, week int) (string, error) {
	return fmt.Sprintf("WS-%04d-W%02d", year, week), nil
}

func TestEntriesUseSequenceTransactionCodes(t *testing.T) {
	s := newTestService(t)
	s.seq = &fakeSequence{}
	ctx := context.Background()

	first, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)
	require.Equal(t, "TXN-u-1-001", first.TransactionID)

	second, err := s.Debit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 50, ReferenceID: "ref-2"})
	require.NoError(t, err)
	require.Equal(t, "TXN-u-1-002", second.TransactionID)
}

func TestEntriesFallBackToLocalTransactionCodes(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	entry, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)
	require.NotEmpty(t, entry.TransactionID)
}

func TestCreditCreatesBalanceAndGenesisEntry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	entry, err := s.Credit(ctx, s.db, EntryParams{
		UserID:      "u-1",
		Amount:      500,
		ReferenceID: "ref-1",
		Description: "weekly settlement",
	})
	require.NoError(t, err)
	require.Equal(t, "GENESIS", entry.PreviousHash)
	require.NotEmpty(t, entry.Hash)

	balance, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Balance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)

	_, err = s.Debit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 101, ReferenceID: "ref-2"})
	require.Error(t, err)
	require.True(t, IsInsufficientBalance(err))

	// A user with no history reads as zero and cannot be debited.
	_, err = s.Debit(ctx, s.db, EntryParams{UserID: "u-2", Amount: 1, ReferenceID: "ref-3"})
	require.True(t, IsInsufficientBalance(err))

	balance, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)
}

func TestDuplicateReferenceRejected(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)

	_, err = s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"})
	require.Error(t, err)

	balance, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)
}

func TestChainLinksAndVerify(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 300, ReferenceID: "ref-1"})
	require.NoError(t, err)

	second, err := s.Debit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-2"})
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PreviousHash)

	balance, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), balance.Balance)

	valid, err := s.VerifyChain(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	entry, err := s.Credit(ctx, s.db, EntryParams{UserID: "u-1", Amount: 300, ReferenceID: "ref-1"})
	require.NoError(t, err)

	err = s.db.Model(&LedgerEntry{}).
		Where("id = ?", entry.ID).
		Update("amount", 9999).Error
	require.NoError(t, err)

	valid, err := s.VerifyChain(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestCreditRollsBackWithOuterTransaction(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.Credit(ctx, tx, EntryParams{UserID: "u-1", Amount: 100, ReferenceID: "ref-1"}); err != nil {
			return err
		}
		return gorm.ErrInvalidData // force rollback
	})
	require.Error(t, err)

	balance, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Balance)

	entries, err := s.ListEntries(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, entries)
}
