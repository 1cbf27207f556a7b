package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency-engine/pkg/errutil"
	"agency-engine/pkg/sequence"
	"agency-engine/services/ledger"
	"agency-engine/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	seq      sequence.Generator
	notifier *notification.Notifier
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Seq      sequence.Generator     `optional:"true"`
	Notifier *notification.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		seq:      p.Seq,
		notifier: p.Notifier,
	}
}

// Request holds the amount and records a pending withdrawal in one
// transaction. An insufficient balance rejects the request synchronously and
// leaves no record behind.
func (s *Service) Request(ctx context.Context, userID string, amount int64, bankInfo datatypes.JSON) (*PointWithdrawal, error) {
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be positive", nil)
	}

	code := ""
	if s.seq != nil {
		var err error
		code, err = s.seq.NextWithdrawalCode(ctx, userID)
		if err != nil {
			zap.L().Warn("failed to issue withdrawal code, falling back to id", zap.Error(err))
			code = ""
		}
	}

	record := &PointWithdrawal{
		ID:          s.node.Generate().String(),
		UserID:      userID,
		Amount:      amount,
		Status:      string(StatusPending),
		BankInfo:    bankInfo,
		RequestedAt: time.Now(),
	}
	if code == "" {
		code = fmt.Sprintf("WDR-%s", record.ID)
	}
	record.Code = code

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ledger.Debit(ctx, tx, ledger.EntryParams{
			UserID:      userID,
			Amount:      amount,
			ReferenceID: fmt.Sprintf("WD:%s", record.ID),
			Description: fmt.Sprintf("withdrawal hold %s", record.Code),
		})
		if err != nil {
			return err
		}

		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, userID, notification.TypeWithdrawalRequested, record)

	return record, nil
}

// Approve stamps a pending withdrawal. The points were already debited at
// request time, so approval touches no balance.
func (s *Service) Approve(ctx context.Context, withdrawalID, processedBy, memo string) (*PointWithdrawal, error) {
	record, err := s.transition(ctx, withdrawalID, StatusApproved, func(tx *gorm.DB, w *PointWithdrawal) error {
		return nil
	}, map[string]any{
		"processed_by": processedBy,
		"memo":         memo,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, record.UserID, notification.TypeWithdrawalApproved, record)

	return record, nil
}

// Reject restores the held amount and stamps the record. Both happen in the
// same transaction; a rejected withdrawal is terminal.
func (s *Service) Reject(ctx context.Context, withdrawalID, processedBy, reason string) (*PointWithdrawal, error) {
	record, err := s.transition(ctx, withdrawalID, StatusRejected, func(tx *gorm.DB, w *PointWithdrawal) error {
		_, err := s.ledger.Credit(ctx, tx, ledger.EntryParams{
			UserID:      w.UserID,
			Amount:      w.Amount,
			ReferenceID: fmt.Sprintf("WDREF:%s", w.ID),
			Description: fmt.Sprintf("withdrawal refund %s", w.Code),
		})
		return err
	}, map[string]any{
		"processed_by": processedBy,
		"reason":       reason,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, record.UserID, notification.TypeWithdrawalRejected, record)

	return record, nil
}

// transition moves a withdrawal out of PENDING exactly once. The guarded
// update makes concurrent approve/reject of the same record lose cleanly.
func (s *Service) transition(ctx context.Context, withdrawalID string, to Status, sideEffect func(tx *gorm.DB, w *PointWithdrawal) error, extra map[string]any) (*PointWithdrawal, error) {
	var record PointWithdrawal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", withdrawalID).First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("withdrawal not found", err)
			}
			return err
		}

		if record.Status != string(StatusPending) {
			return errutil.Conflict(
				fmt.Sprintf("withdrawal already processed with status %s", record.Status), nil)
		}

		if err := sideEffect(tx, &record); err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]any{
			"status":       string(to),
			"processed_at": &now,
		}
		for k, v := range extra {
			updates[k] = v
		}

		res := tx.Model(&PointWithdrawal{}).
			Where("id = ? AND status = ?", withdrawalID, string(StatusPending)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("withdrawal already processed", nil)
		}

		record.Status = string(to)
		record.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *Service) Get(ctx context.Context, withdrawalID string) (*PointWithdrawal, error) {
	var record PointWithdrawal
	err := s.db.WithContext(ctx).Where("id = ?", withdrawalID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("withdrawal not found", err)
		}
		return nil, err
	}
	return &record, nil
}

// ListByUser returns a user's withdrawals, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]PointWithdrawal, error) {
	var records []PointWithdrawal
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("requested_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) notify(ctx context.Context, userID, notifType string, record *PointWithdrawal) {
	if s.notifier == nil {
		return
	}

	err := s.notifier.Emit(ctx, userID, notifType, map[string]any{
		"withdrawal_id": record.ID,
		"code":          record.Code,
		"amount":        record.Amount,
		"status":        record.Status,
	})
	if err != nil {
		zap.L().Warn("failed to emit withdrawal notification",
			zap.String("withdrawal_id", record.ID),
			zap.Error(err),
		)
	}
}
