package ledger

import (
	"context"
	"errors"
	"time"

	"agency-engine/pkg/errutil"
	"agency-engine/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const genesisHash = "GENESIS"

const insufficientBalanceMsg = "insufficient balance"

// IsInsufficientBalance reports whether err is the debit-side rejection for a
// balance smaller than the requested amount.
func IsInsufficientBalance(err error) bool {
	var be errutil.BaseError
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == errutil.StatusUnprocessableEntity && be.Message == insufficientBalanceMsg
}

// EntryParams describes one movement. ReferenceID must be unique across the
// whole ledger; a replayed reference is rejected, which is what makes credits
// and debits safe to retry.
type EntryParams struct {
	UserID      string
	Amount      int64
	ReferenceID string
	Description string
	Metadata    datatypes.JSON
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node, seq: p.Seq}
}

// Credit appends a CREDIT entry and raises the balance. It must be called
// inside the caller's transaction so the entry commits or rolls back together
// with whatever business record caused it.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, p EntryParams) (*LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, errutil.BadRequest("amount must be > 0 for CREDIT", nil)
	}

	if err := s.checkReference(ctx, tx, p.ReferenceID); err != nil {
		return nil, err
	}

	entry, err := s.appendEntry(ctx, tx, EntryCredit, p)
	if err != nil {
		return nil, err
	}

	if err := s.adjustBalance(ctx, tx, p.UserID, p.Amount); err != nil {
		return nil, err
	}

	return entry, nil
}

// Debit appends a DEBIT entry and lowers the balance, rejecting the movement
// when the balance cannot cover it.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, p EntryParams) (*LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, errutil.BadRequest("amount must be > 0 for DEBIT", nil)
	}

	if err := s.checkReference(ctx, tx, p.ReferenceID); err != nil {
		return nil, err
	}

	var balance Balance
	err := tx.WithContext(ctx).Where("user_id = ?", p.UserID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.UnprocessableEntity(insufficientBalanceMsg, nil)
		}
		return nil, err
	}
	if balance.Balance < p.Amount {
		return nil, errutil.UnprocessableEntity(insufficientBalanceMsg, nil)
	}

	entry, err := s.appendEntry(ctx, tx, EntryDebit, p)
	if err != nil {
		return nil, err
	}

	if err := s.adjustBalance(ctx, tx, p.UserID, -p.Amount); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *Service) checkReference(ctx context.Context, tx *gorm.DB, referenceID string) error {
	if referenceID == "" {
		return errutil.BadRequest("reference_id is required", nil)
	}

	var count int64
	err := tx.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("reference_id = ?", referenceID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		zap.L().Warn("ledger reference already recorded", zap.String("reference_id", referenceID))
		return errutil.Conflict("reference_id already exists", nil)
	}

	return nil
}

// appendEntry chains a new entry onto the user's last one. CreatedAt is fixed
// before hashing; the hash covers it.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, entryType EntryType, p EntryParams) (*LedgerEntry, error) {
	previousHash := genesisHash

	var last LedgerEntry
	err := tx.WithContext(ctx).
		Where("user_id = ?", p.UserID).
		Order("created_at DESC, id DESC").
		First(&last).Error
	if err == nil {
		previousHash = last.Hash
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	transactionID, err := s.transactionID(ctx, p.UserID)
	if err != nil {
		zap.L().Error("failed to generate transaction id", zap.Error(err))
		return nil, err
	}

	now := time.Now()
	entry := &LedgerEntry{
		ID:            s.node.Generate().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		UserID:        p.UserID,
		Type:          string(entryType),
		Amount:        p.Amount,
		TransactionID: transactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  previousHash,
		Metadata:      p.Metadata,
	}
	entry.Hash = entry.GenerateHash()

	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}

	return entry, nil
}

// transactionID prefers the redis-backed sequence so entries carry readable
// daily codes; without a generator wired the entry gets a random local code.
func (s *Service) transactionID(ctx context.Context, userID string) (string, error) {
	if s.seq != nil {
		return s.seq.NextTransactionCode(ctx, userID)
	}
	return GenerateTransactionID()
}

func (s *Service) adjustBalance(ctx context.Context, tx *gorm.DB, userID string, delta int64) error {
	var balance Balance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now()
		return tx.WithContext(ctx).Create(&Balance{
			ID:        s.node.Generate().String(),
			UserID:    userID,
			Balance:   delta,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	}

	return tx.WithContext(ctx).
		Model(&Balance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now(),
		}).Error
}

// GetBalance returns a user's current balance; users with no ledger history
// read as zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var balance Balance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Balance{UserID: userID, Balance: 0}, nil
		}
		return nil, err
	}

	return &balance, nil
}

// ListEntries returns a user's movements oldest first.
func (s *Service) ListEntries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyChain recomputes every hash in a user's chain and checks each link
// against its predecessor.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.ListEntries(ctx, userID)
	if err != nil {
		return false, err
	}

	lastHash := genesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}
