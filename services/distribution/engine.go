package distribution

import (
	"context"
	"fmt"
	"sort"

	"agency-engine/pkg/config"
	"agency-engine/services/referral"
	"agency-engine/services/settings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Engine computes commission shares for one master's tree over a batch of
// revenue events. It is pure over its inputs; persistence belongs to the
// settlement ledger.
type Engine struct {
	maxDepth int
}

type EngineParams struct {
	fx.In
	Config *config.Config
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{maxDepth: p.Config.Settlement.MaxDepth}
}

// Result of one Distribute call. Matched holds the ids of events whose
// source user was found in the tree.
type Result struct {
	Distributions []Distribution
	Anomalies     []Anomaly
	Matched       map[string]bool
	// FloorLossHundredths is the total truncation loss across all shares, in
	// hundredths of a point. Reported, never redistributed.
	FloorLossHundredths int64
}

// Distribute walks each confirmed event's ancestor chain nearest-first and
// pays every ancestor holding an active role under this master at the rate
// configured for that role's level. An ancestor at an unconfigured level, or
// without a role, contributes nothing. Shares are truncated toward zero; the
// running payout per event is clamped at the event amount so a misconfigured
// rate table can never mint points.
func (e *Engine) Distribute(ctx context.Context, cfg *settings.Settings, tree *referral.Tree, roles map[string]*referral.AgencyRole, events []RevenueEvent) *Result {
	res := &Result{Matched: make(map[string]bool)}

	rates := make(map[int]int64, len(cfg.Levels))
	for _, lvl := range cfg.Levels {
		rates[lvl.Level] = lvl.CommissionRate
	}

	byUser := make(map[string]*Distribution)

	for _, event := range events {
		if EventStatus(event.Status) != EventConfirmed {
			continue
		}

		source := tree.NodeByID(event.SourceUserID)
		if source == nil {
			continue
		}
		res.Matched[event.ID] = true

		remaining := event.Amount
		overflowed := false
		var floorLoss int64

		for _, ancestor := range tree.AncestorChain(source.Username, e.maxDepth) {
			role := roles[ancestor.UserID]
			if role == nil {
				continue
			}

			rate, ok := rates[role.Level]
			if !ok || rate == 0 {
				continue
			}

			exact := event.Amount * rate
			share := exact / 100

			if share > remaining {
				share = remaining
				if !overflowed {
					overflowed = true
					res.Anomalies = append(res.Anomalies, Anomaly{
						Kind:     AnomalyRateOverflow,
						EventID:  event.ID,
						MasterID: cfg.MasterID,
						Detail:   fmt.Sprintf("level rates exceed 100%%; payout clamped at %d", event.Amount),
					})
				}
			} else {
				floorLoss += exact % 100
			}
			if share == 0 {
				continue
			}
			remaining -= share

			d := byUser[ancestor.UserID]
			if d == nil {
				d = &Distribution{UserID: ancestor.UserID, UserType: role.Role}
				byUser[ancestor.UserID] = d
			}
			d.GrantedAmount += share
			d.Details = append(d.Details, Detail{
				MasterID:       cfg.MasterID,
				Level:          role.Level,
				CommissionRate: rate,
				Amount:         share,
			})
		}

		if floorLoss > 0 {
			res.FloorLossHundredths += floorLoss
			zap.L().Info("commission truncation loss",
				zap.String("event_id", event.ID),
				zap.String("master_id", cfg.MasterID),
				zap.Int64("loss_hundredths", floorLoss),
			)
		}
	}

	res.Distributions = make([]Distribution, 0, len(byUser))
	for _, d := range byUser {
		res.Distributions = append(res.Distributions, *d)
	}
	sort.Slice(res.Distributions, func(i, j int) bool {
		return res.Distributions[i].UserID < res.Distributions[j].UserID
	})

	return res
}
