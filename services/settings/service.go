package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency-engine/pkg/errutil"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Get returns the decoded settings for a master, or the documented default
// when none are stored. found distinguishes the two so the distribution
// engine can fail closed on unconfigured masters.
func (s *Service) Get(ctx context.Context, masterID string) (*Settings, bool, error) {
	var row AgencySettings
	err := s.db.WithContext(ctx).
		Where("master_id = ?", masterID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultSettings(masterID), false, nil
		}
		return nil, false, err
	}

	decoded, err := row.Decode()
	if err != nil {
		zap.L().Error("failed to decode agency settings",
			zap.String("master_id", masterID),
			zap.Error(err),
		)
		return nil, false, errutil.Internal("corrupt agency settings", err)
	}

	return decoded, true, nil
}

// Put validates and upserts the settings for a master.
func (s *Service) Put(ctx context.Context, masterID string, cfg *Settings) error {
	cfg.MasterID = masterID

	if err := Validate(cfg); err != nil {
		return err
	}

	row, err := encodeRow(cfg)
	if err != nil {
		return errutil.Internal("failed to encode agency settings", err)
	}
	row.UpdatedAt = time.Now()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "master_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
}

// ListMasterIDs returns every configured master in stable order, for batch
// processing.
func (s *Service) ListMasterIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&AgencySettings{}).
		Order("master_id ASC").
		Pluck("master_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Validate enforces the settings invariants: distinct positive level
// integers, rates within [0,100], a known use condition and, if present, a
// compilable qualification expression.
func Validate(cfg *Settings) error {
	if len(cfg.Levels) == 0 {
		return errutil.ValidationFailed("at least one commission level is required", nil)
	}

	seen := make(map[int]bool, len(cfg.Levels))
	for _, lvl := range cfg.Levels {
		if lvl.Level < 1 {
			return errutil.ValidationFailed(fmt.Sprintf("level must be >= 1, got %d", lvl.Level), nil)
		}
		if seen[lvl.Level] {
			return errutil.ValidationFailed(fmt.Sprintf("duplicate level %d", lvl.Level), nil)
		}
		seen[lvl.Level] = true

		if lvl.CommissionRate < 0 || lvl.CommissionRate > 100 {
			return errutil.ValidationFailed(
				fmt.Sprintf("commission rate must be within [0,100], got %d at level %d", lvl.CommissionRate, lvl.Level), nil)
		}
	}

	if cfg.MasterType != "" && cfg.MasterType.String() == "" {
		return errutil.ValidationFailed(fmt.Sprintf("unknown master type %q", cfg.MasterType), nil)
	}

	aq := cfg.AutoQualification
	if aq.Enabled {
		if aq.UseCondition.String() == "" && aq.Expression == "" {
			return errutil.ValidationFailed("auto qualification requires a use condition or expression", nil)
		}
		if aq.MemberCount < 0 || aq.ChargeAmount < 0 || aq.UsageAmount < 0 {
			return errutil.ValidationFailed("auto qualification thresholds must be >= 0", nil)
		}
	}

	if aq.Expression != "" {
		if err := compileExpression(aq.Expression); err != nil {
			return errutil.ValidationFailed("qualification expression does not compile", err, errutil.WithErr(err))
		}
	}

	if cfg.RequireBothLegs && cfg.MasterType != MasterTypeBinary {
		return errutil.ValidationFailed("require_both_legs is only valid for binary masters", nil)
	}

	return nil
}

// compileExpression checks a CEL qualification expression against the metric
// variables the evaluator will bind at run time.
func compileExpression(expression string) error {
	declarations := []*exprpb.Decl{
		decls.NewVar("member_count", decls.Int),
		decls.NewVar("charge_amount", decls.Int),
		decls.NewVar("usage_amount", decls.Int),
	}

	env, err := cel.NewEnv(cel.Declarations(declarations...))
	if err != nil {
		return fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("expression must return a boolean")
	}

	return nil
}
