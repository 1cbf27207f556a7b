package settlement

import (
	"context"
	"encoding/json"
	"time"

	"agency-engine/pkg/config"
	"agency-engine/pkg/sequence"
	"agency-engine/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RunPayload is the asynq payload of one queued settlement run.
type RunPayload struct {
	SettlementID string `json:"settlement_id"`
	Year         int    `json:"year"`
	Week         int    `json:"week"`
}

// Scheduler fires once a week at the configured weekday and hour and
// enqueues the run for the ISO week that just ended.
type Scheduler struct {
	cfg    *config.Config
	seq    sequence.Generator
	client *asynq.Client
}

type SchedulerParams struct {
	fx.In
	Config *config.Config
	Seq    sequence.Generator
	Client *asynq.Client
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{cfg: p.Config, seq: p.Seq, client: p.Client}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started weekly settlement scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, time.Weekday(s.cfg.Settlement.RunWeekday), s.cfg.Settlement.RunHour)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.enqueueWeekly(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// enqueueWeekly settles the ISO week that ended before the current one.
func (s *Scheduler) enqueueWeekly(ctx context.Context) {
	year, week := time.Now().AddDate(0, 0, -7).ISOWeek()

	settlementID, err := s.seq.NextSettlementCode(ctx, year, week)
	if err != nil {
		zap.L().Error("[Scheduler] failed to derive settlement code", zap.Error(err))
		return
	}

	payload, err := json.Marshal(RunPayload{SettlementID: settlementID, Year: year, Week: week})
	if err != nil {
		zap.L().Error("[Scheduler] failed to marshal run payload", zap.Error(err))
		return
	}

	_, err = s.client.EnqueueContext(ctx,
		asynq.NewTask(taskname.SettlementRun, payload),
		asynq.Queue("critical"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue settlement run",
			zap.String("settlement_id", settlementID),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("[Scheduler] settlement run enqueued",
		zap.String("settlement_id", settlementID),
		zap.Int("year", year),
		zap.Int("week", week),
	)
}

// nextRunTime is the next occurrence of weekday at hour:00.
func nextRunTime(now time.Time, weekday time.Weekday, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
