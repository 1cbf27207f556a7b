package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"agency-engine/pkg/config"
	"agency-engine/services/distribution"
	"agency-engine/services/eligibility"
	"agency-engine/services/referral"
	"agency-engine/services/settings"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Runner drives the whole weekly pipeline: tree build, qualification,
// distribution and apply, master by master in ascending id order.
type Runner struct {
	db        *gorm.DB
	node      *snowflake.Node
	cfg       *config.Config
	settings  *settings.Service
	builder   *referral.Builder
	roles     *referral.Service
	evaluator *eligibility.Evaluator
	engine    *distribution.Engine
	events    *distribution.Store
	svc       *Service
	objects   *minio.Client
}

type RunnerParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Settings  *settings.Service
	Builder   *referral.Builder
	Roles     *referral.Service
	Evaluator *eligibility.Evaluator
	Engine    *distribution.Engine
	Events    *distribution.Store
	Service   *Service
	Objects   *minio.Client `optional:"true"`
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		db:        p.DB,
		node:      p.Node,
		cfg:       p.Config,
		settings:  p.Settings,
		builder:   p.Builder,
		roles:     p.Roles,
		evaluator: p.Evaluator,
		engine:    p.Engine,
		events:    p.Events,
		svc:       p.Service,
		objects:   p.Objects,
	}
}

// RunResult summarizes one pipeline execution; it is also what gets archived
// as the weekly report.
type RunResult struct {
	SettlementID     string                      `json:"settlement_id"`
	Year             int                         `json:"year"`
	Week             int                         `json:"week"`
	Applied          bool                        `json:"applied"`
	MastersProcessed int                         `json:"masters_processed"`
	EventsProcessed  int                         `json:"events_processed"`
	Distributions    []distribution.Distribution `json:"distributions"`
	Promotions       []eligibility.Promotion     `json:"promotions,omitempty"`
	Anomalies        []distribution.Anomaly      `json:"anomalies,omitempty"`
	ReportObject     string                      `json:"report_object,omitempty"`
}

// WeekWindow is the [monday, next monday) span of an ISO week, UTC.
func WeekWindow(year, week int) (time.Time, time.Time) {
	// January 4 always falls in ISO week 1.
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset+(week-1)*7)
	return monday, monday.AddDate(0, 0, 7)
}

// Run executes the pipeline for one week. A settlement id that was already
// applied short-circuits inside Apply; the run itself is safe to repeat.
func (r *Runner) Run(ctx context.Context, settlementID string, year, week int) (*RunResult, error) {
	if settlementID == "" {
		settlementID = SettlementID(year, week)
	}

	run := &SettlementRun{
		ID:           r.node.Generate().String(),
		SettlementID: settlementID,
		Status:       string(RunRunning),
		StartedAt:    time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}

	result, err := r.execute(ctx, settlementID, year, week)
	if err != nil {
		r.finishRun(ctx, run, RunFailed, result, err)
		return nil, err
	}

	r.finishRun(ctx, run, RunSucceeded, result, nil)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, settlementID string, year, week int) (*RunResult, error) {
	from, to := WeekWindow(year, week)
	zap.L().Info("settlement run started",
		zap.String("settlement_id", settlementID),
		zap.Time("window_from", from),
		zap.Time("window_to", to),
	)

	var (
		events  []distribution.RevenueEvent
		masters []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = r.events.ConfirmedInWindow(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		masters, err = r.roles.ListMasterUserIDs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var chargeEvents []distribution.RevenueEvent
	for _, ev := range events {
		if ev.Kind == "" || ev.Kind == string(distribution.KindCharge) {
			chargeEvents = append(chargeEvents, ev)
		}
	}

	result := &RunResult{
		SettlementID:    settlementID,
		Year:            year,
		Week:            week,
		EventsProcessed: len(events),
	}

	// Phase one: build every configured master's scope and run promotion
	// over it. Distribution waits until events have an owner.
	scopes := make(map[string]*masterScope)
	scoped := make([]string, 0, len(masters))

	for _, masterID := range masters {
		cfg, found, err := r.settings.Get(ctx, masterID)
		if err != nil {
			return result, err
		}
		if !found {
			result.Anomalies = append(result.Anomalies, distribution.Anomaly{
				Kind:     distribution.AnomalyConfigMissing,
				MasterID: masterID,
				Detail:   "master has no stored settings, skipped",
			})
			zap.L().Warn("master has no settings, skipping",
				zap.String("master_id", masterID),
			)
			continue
		}

		tree, err := r.builder.BuildTree(ctx, masterID)
		if err != nil {
			return result, err
		}

		tree.Aggregate(windowAmounts(tree, events))

		promotions, err := r.evaluator.EvaluateMaster(ctx, cfg, tree)
		if err != nil {
			return result, err
		}
		result.Promotions = append(result.Promotions, promotions...)

		roles, err := r.roles.ActiveRolesByMaster(ctx, masterID)
		if err != nil {
			return result, err
		}

		scopes[masterID] = &masterScope{cfg: cfg, tree: tree, roles: roles}
		scoped = append(scoped, masterID)
		result.MastersProcessed++
	}

	// Phase two: each charge event belongs to exactly one scope, the closest
	// configured master above its source. Masters nest, so without this an
	// event inside an inner master's tree would also be paid out under every
	// enclosing master.
	assigned := make(map[string][]distribution.RevenueEvent)
	for _, ev := range chargeEvents {
		owner, found := closestScope(scopes, ev.SourceUserID)
		if !found {
			result.Anomalies = append(result.Anomalies, distribution.Anomaly{
				Kind:    distribution.AnomalyIncompleteRevenueData,
				EventID: ev.ID,
				Detail:  fmt.Sprintf("source user %s not found in any master tree", ev.SourceUserID),
			})
			zap.L().Warn("revenue event matched no tree",
				zap.String("event_id", ev.ID),
				zap.String("source_user_id", ev.SourceUserID),
			)
			continue
		}
		if owner == "" {
			// A top-level master's own revenue: resolvable, nobody above to pay.
			continue
		}
		assigned[owner] = append(assigned[owner], ev)
	}

	merged := make(map[string]*distribution.Distribution)

	for _, masterID := range scoped {
		evs := assigned[masterID]
		if len(evs) == 0 {
			continue
		}

		sc := scopes[masterID]
		res := r.engine.Distribute(ctx, sc.cfg, sc.tree, sc.roles, evs)
		result.Anomalies = append(result.Anomalies, res.Anomalies...)

		for _, d := range res.Distributions {
			existing := merged[d.UserID]
			if existing == nil {
				copied := d
				merged[d.UserID] = &copied
				continue
			}
			existing.GrantedAmount += d.GrantedAmount
			existing.Details = append(existing.Details, d.Details...)
		}
	}

	result.Distributions = make([]distribution.Distribution, 0, len(merged))
	for _, d := range merged {
		result.Distributions = append(result.Distributions, *d)
	}
	sort.Slice(result.Distributions, func(i, j int) bool {
		return result.Distributions[i].UserID < result.Distributions[j].UserID
	})

	applied, err := r.svc.Apply(ctx, settlementID, year, week, result.Distributions)
	if err != nil {
		return result, err
	}
	result.Applied = applied

	r.archiveReport(ctx, result)

	zap.L().Info("settlement run finished",
		zap.String("settlement_id", settlementID),
		zap.Bool("applied", applied),
		zap.Int("masters", result.MastersProcessed),
		zap.Int("recipients", len(result.Distributions)),
		zap.Int("anomalies", len(result.Anomalies)),
	)

	return result, nil
}

// masterScope is one configured master's view for a run: its settings, its
// tree with window metrics aggregated, and the active roles under it.
type masterScope struct {
	cfg   *settings.Settings
	tree  *referral.Tree
	roles map[string]*referral.AgencyRole
}

// closestScope resolves the configured master that owns a source user's
// revenue: the nearest configured master in the source's ancestor chain.
// Returns ("", true) when the source is known to some tree but has no
// configured master above it, and ("", false) when no tree contains it.
func closestScope(scopes map[string]*masterScope, sourceUserID string) (string, bool) {
	best := ""
	bestDist := 0
	found := false

	for masterID, sc := range scopes {
		node := sc.tree.NodeByID(sourceUserID)
		if node == nil {
			continue
		}
		found = true
		if node == sc.tree.Root {
			// A master is never its own ancestor.
			continue
		}

		// The chain inside this tree ends at the scope root, so its length
		// is the source's distance to this master.
		dist := len(sc.tree.AncestorChain(node.Username, len(sc.tree.Index)))
		if dist == 0 {
			continue
		}
		if best == "" || dist < bestDist || (dist == bestDist && masterID < best) {
			best = masterID
			bestDist = dist
		}
	}

	return best, found
}

// windowAmounts folds the window's events into per-username amounts for the
// members of this tree.
func windowAmounts(tree *referral.Tree, events []distribution.RevenueEvent) map[string]referral.Amounts {
	amounts := make(map[string]referral.Amounts)
	for _, ev := range events {
		node := tree.NodeByID(ev.SourceUserID)
		if node == nil {
			continue
		}

		a := amounts[node.Username]
		if ev.Kind == string(distribution.KindUsage) {
			a.UsageAmount += ev.Amount
		} else {
			a.ChargeAmount += ev.Amount
		}
		amounts[node.Username] = a
	}
	return amounts
}

// archiveReport uploads the run summary as JSON when object storage is
// configured. Failures only cost the archive, never the settlement.
func (r *Runner) archiveReport(ctx context.Context, result *RunResult) {
	if r.objects == nil || r.cfg.Minio.BucketName == "" {
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		zap.L().Warn("failed to marshal settlement report", zap.Error(err))
		return
	}

	object := fmt.Sprintf("settlements/%s.json", result.SettlementID)
	_, err = r.objects.PutObject(ctx, r.cfg.Minio.BucketName, object,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		zap.L().Warn("failed to archive settlement report",
			zap.String("object", object),
			zap.Error(err),
		)
		return
	}

	result.ReportObject = object
}

func (r *Runner) finishRun(ctx context.Context, run *SettlementRun, status RunStatus, result *RunResult, runErr error) {
	now := time.Now()
	updates := map[string]any{
		"status":      string(status),
		"finished_at": &now,
	}
	if result != nil {
		updates["masters_processed"] = result.MastersProcessed
		updates["events_processed"] = result.EventsProcessed
		updates["anomaly_count"] = len(result.Anomalies)
		updates["report_object"] = result.ReportObject
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}

	err := r.db.WithContext(ctx).
		Model(&SettlementRun{}).
		Where("id = ?", run.ID).
		Updates(updates).Error
	if err != nil {
		zap.L().Error("failed to update settlement run record",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}
