package referral

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns the agency role records attached to the referral hierarchy.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

// ListMasterUserIDs returns the ids of every master-grade user in stable
// order. These are the roots the weekly pipeline processes.
func (s *Service) ListMasterUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("user_role IN ?", []string{
			RoleHeadquarters.String(),
			RoleRegional.String(),
			RoleAgency.String(),
		}).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ActiveRolesByMaster returns the active role per user under one master's
// scope. Roles held under other masters are intentionally absent; the
// distribution engine never pays across master scopes.
func (s *Service) ActiveRolesByMaster(ctx context.Context, masterID string) (map[string]*AgencyRole, error) {
	var roles []AgencyRole
	err := s.db.WithContext(ctx).
		Where("master_id = ? AND active = ?", masterID, true).
		Order("user_id ASC").
		Find(&roles).Error
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*AgencyRole, len(roles))
	for i := range roles {
		role := roles[i]
		byUser[role.UserID] = &role
	}

	return byUser, nil
}

// ActiveRole returns the active role of one user under one master, or nil.
func (s *Service) ActiveRole(ctx context.Context, masterID, userID string) (*AgencyRole, error) {
	var role AgencyRole
	err := s.db.WithContext(ctx).
		Where("master_id = ? AND user_id = ? AND active = ?", masterID, userID, true).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &role, nil
}

// EnsureRole grants a role under a master if the user does not already hold
// an active one. Granting is one-way: an existing active role is left
// untouched, so repeated evaluation can never demote. Returns whether a new
// role row was created.
func (s *Service) EnsureRole(ctx context.Context, masterID, userID string, role RoleType, level int, commissionRate int64) (bool, error) {
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing AgencyRole
		err := tx.Where("master_id = ? AND user_id = ? AND active = ?", masterID, userID, true).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now()
		if err := tx.Create(&AgencyRole{
			ID:             s.node.Generate().String(),
			UserID:         userID,
			MasterID:       masterID,
			Role:           role.String(),
			Level:          level,
			CommissionRate: commissionRate,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}).Error; err != nil {
			return err
		}

		created = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		zap.L().Info("agency role granted",
			zap.String("master_id", masterID),
			zap.String("user_id", userID),
			zap.String("role", role.String()),
			zap.Int("level", level),
		)
	}

	return created, nil
}

// SupersedeRole deactivates a user's active role under a master. Explicit
// admin action only; nothing in the batch pipeline calls this.
func (s *Service) SupersedeRole(ctx context.Context, masterID, userID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&AgencyRole{}).
		Where("master_id = ? AND user_id = ? AND active = ?", masterID, userID, true).
		Updates(map[string]any{
			"active":        false,
			"superseded_at": &now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
