package settlement

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleRunTask consumes a queued settlement run. Apply is idempotent, so
// asynq retries after partial failures are safe.
func (r *Runner) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid settlement run payload", zap.Error(err))
		return err
	}

	_, err := r.Run(ctx, payload.SettlementID, payload.Year, payload.Week)
	return err
}
