package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency-engine/pkg/errutil"
	"agency-engine/pkg/featureflags"
	"agency-engine/services/distribution"
	"agency-engine/services/ledger"
	"agency-engine/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const featureSettlementNotifications = "settlement_notifications"

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	notifier *notification.Notifier
	flags    featureflags.FeatureFlag
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Notifier *notification.Notifier   `optional:"true"`
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		flags:    p.Flags,
	}
}

// Apply persists the week's distributions and credits every positive total,
// all in one transaction. An already-applied settlement id is a no-op: the
// prior result stands and applied=false is returned. Notifications go out
// after commit and can never roll the settlement back.
func (s *Service) Apply(ctx context.Context, settlementID string, year, week int, dists []distribution.Distribution) (bool, error) {
	var existing WeeklySettlement
	err := s.db.WithContext(ctx).Where("id = ?", settlementID).First(&existing).Error
	if err == nil && existing.Applied {
		zap.L().Info("settlement already applied, skipping",
			zap.String("settlement_id", settlementID),
		)
		return false, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Create(&WeeklySettlement{
			ID:        settlementID,
			Year:      year,
			Week:      week,
			Applied:   true,
			AppliedAt: &now,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error; err != nil {
			return err
		}

		for _, d := range dists {
			distributionID := s.node.Generate().String()
			if err := tx.Create(&SettlementDistribution{
				ID:            distributionID,
				SettlementID:  settlementID,
				UserID:        d.UserID,
				UserType:      d.UserType,
				GrantedAmount: d.GrantedAmount,
				CreatedAt:     now,
			}).Error; err != nil {
				return err
			}

			for _, detail := range d.Details {
				if err := tx.Create(&DistributionDetail{
					ID:             s.node.Generate().String(),
					DistributionID: distributionID,
					MasterID:       detail.MasterID,
					Level:          detail.Level,
					CommissionRate: detail.CommissionRate,
					Amount:         detail.Amount,
					CreatedAt:      now,
				}).Error; err != nil {
					return err
				}
			}

			if d.GrantedAmount <= 0 {
				continue
			}

			_, err := s.ledger.Credit(ctx, tx, ledger.EntryParams{
				UserID:      d.UserID,
				Amount:      d.GrantedAmount,
				ReferenceID: fmt.Sprintf("%s:%s", settlementID, d.UserID),
				Description: fmt.Sprintf("weekly commission %s", settlementID),
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	s.notifyRecipients(ctx, settlementID, dists)

	return true, nil
}

func (s *Service) notifyRecipients(ctx context.Context, settlementID string, dists []distribution.Distribution) {
	if s.notifier == nil {
		return
	}
	if s.flags != nil && !s.flags.IsEnabled(ctx, featureSettlementNotifications) {
		return
	}

	for _, d := range dists {
		if d.GrantedAmount <= 0 {
			continue
		}
		err := s.notifier.Emit(ctx, d.UserID, notification.TypeSettlementCredited, map[string]any{
			"settlement_id":  settlementID,
			"granted_amount": d.GrantedAmount,
		})
		if err != nil {
			zap.L().Warn("failed to emit settlement notification",
				zap.String("settlement_id", settlementID),
				zap.String("user_id", d.UserID),
				zap.Error(err),
			)
		}
	}
}

// DistributionView is one recipient's total with its per-master breakdown.
type DistributionView struct {
	UserID        string               `json:"user_id"`
	UserType      string               `json:"user_type"`
	GrantedAmount int64                `json:"granted_amount"`
	Details       []DistributionDetail `json:"details"`
}

type View struct {
	ID            string             `json:"id"`
	Year          int                `json:"year"`
	Week          int                `json:"week"`
	Applied       bool               `json:"applied"`
	AppliedAt     *time.Time         `json:"applied_at,omitempty"`
	Distributions []DistributionView `json:"distributions"`
}

// Get loads one settlement with its distributions and details.
func (s *Service) Get(ctx context.Context, settlementID string) (*View, error) {
	var header WeeklySettlement
	err := s.db.WithContext(ctx).Where("id = ?", settlementID).First(&header).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("settlement not found", err)
		}
		return nil, err
	}

	var rows []SettlementDistribution
	err = s.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	view := &View{
		ID:        header.ID,
		Year:      header.Year,
		Week:      header.Week,
		Applied:   header.Applied,
		AppliedAt: header.AppliedAt,
	}

	for _, row := range rows {
		var details []DistributionDetail
		err = s.db.WithContext(ctx).
			Where("distribution_id = ?", row.ID).
			Order("master_id ASC, level ASC").
			Find(&details).Error
		if err != nil {
			return nil, err
		}

		view.Distributions = append(view.Distributions, DistributionView{
			UserID:        row.UserID,
			UserType:      row.UserType,
			GrantedAmount: row.GrantedAmount,
			Details:       details,
		})
	}

	return view, nil
}
