package eligibility

import (
	"context"
	"fmt"

	"agency-engine/pkg/featureflags"
	"agency-engine/services/referral"
	"agency-engine/services/settings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

const featureAutoQualification = "auto_qualification"

// Promotion records one direct downline member granted an agency role during
// an evaluation pass.
type Promotion struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Level          int    `json:"level"`
	CommissionRate int64  `json:"commission_rate"`
}

// Evaluator applies a master's auto-qualification rules to its direct
// downline. Promotion is one-way: the evaluator only ever grants roles, so a
// member whose metrics later fall below threshold keeps the role.
type Evaluator struct {
	roles *referral.Service
	flags featureflags.FeatureFlag
}

type EvaluatorParams struct {
	fx.In
	Roles *referral.Service
	Flags featureflags.FeatureFlag `optional:"true"`
}

func NewEvaluator(p EvaluatorParams) *Evaluator {
	return &Evaluator{roles: p.Roles, flags: p.Flags}
}

// EvaluateMaster checks every direct child of the master's tree root and
// grants an agency role to those that qualify. Returns the promotions that
// actually created a role; members that already hold one are skipped.
func (e *Evaluator) EvaluateMaster(ctx context.Context, cfg *settings.Settings, tree *referral.Tree) ([]Promotion, error) {
	if !cfg.AutoQualification.Enabled {
		return nil, nil
	}

	if e.flags != nil && !e.flags.IsEnabled(ctx, featureAutoQualification) {
		zap.L().Info("auto qualification disabled by feature flag",
			zap.String("master_id", cfg.MasterID),
		)
		return nil, nil
	}

	level, rate := entryLevel(cfg)

	var promoted []Promotion
	for _, child := range tree.Root.Children {
		ok, err := Qualifies(cfg, child)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		created, err := e.roles.EnsureRole(ctx, cfg.MasterID, child.UserID, referral.RoleAgency, level, rate)
		if err != nil {
			return nil, err
		}
		if created {
			promoted = append(promoted, Promotion{
				UserID:         child.UserID,
				Username:       child.Username,
				Level:          level,
				CommissionRate: rate,
			})
		}
	}

	return promoted, nil
}

// entryLevel is the deepest configured commission level. Freshly promoted
// agencies start at the bottom tier.
func entryLevel(cfg *settings.Settings) (int, int64) {
	level, rate := 1, int64(0)
	for _, lvl := range cfg.Levels {
		if lvl.Level >= level {
			level = lvl.Level
			rate = lvl.CommissionRate
		}
	}
	return level, rate
}

// Qualifies reports whether a node's subtree metrics satisfy the master's
// auto-qualification rules. Disabled rules never qualify anyone.
func Qualifies(cfg *settings.Settings, node *referral.Node) (bool, error) {
	aq := cfg.AutoQualification
	if !aq.Enabled {
		return false, nil
	}

	if cfg.RequireBothLegs {
		return bothLegsQualify(cfg, node)
	}

	return metricsQualify(aq, node.Metrics)
}

// bothLegsQualify requires a binary node to have two direct legs, each of
// which independently satisfies the thresholds. A leg's head counts toward
// that leg's member count.
func bothLegsQualify(cfg *settings.Settings, node *referral.Node) (bool, error) {
	if len(node.Children) < 2 {
		return false, nil
	}

	for _, leg := range node.Children {
		m := leg.Metrics
		m.MemberCount++

		ok, err := metricsQualify(cfg.AutoQualification, m)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func metricsQualify(aq settings.AutoQualification, m referral.Metrics) (bool, error) {
	if aq.Expression != "" {
		return evalExpression(aq.Expression, m)
	}

	memberOK := aq.MemberCount == 0 || m.MemberCount >= aq.MemberCount
	chargeOK := aq.ChargeAmount == 0 || m.ChargeAmount >= aq.ChargeAmount
	usageOK := aq.UsageAmount == 0 || m.UsageAmount >= aq.UsageAmount

	switch aq.UseCondition {
	case settings.ConditionMemberCount:
		return memberOK, nil
	case settings.ConditionChargeAmount:
		return chargeOK, nil
	case settings.ConditionUsageAmount:
		return usageOK, nil
	case settings.ConditionBoth:
		return memberOK && chargeOK && usageOK, nil
	default:
		return false, fmt.Errorf("unknown use condition %q", aq.UseCondition)
	}
}

// evalExpression evaluates a stored CEL qualification expression against one
// node's metrics.
func evalExpression(expression string, m referral.Metrics) (bool, error) {
	declarations := []*exprpb.Decl{
		decls.NewVar("member_count", decls.Int),
		decls.NewVar("charge_amount", decls.Int),
		decls.NewVar("usage_amount", decls.Int),
	}

	env, err := cel.NewEnv(cel.Declarations(declarations...))
	if err != nil {
		return false, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"member_count":  m.MemberCount,
		"charge_amount": m.ChargeAmount,
		"usage_amount":  m.UsageAmount,
	})
	if err != nil {
		return false, err
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}

	return result, nil
}
