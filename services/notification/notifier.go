package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"agency-engine/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DispatchPayload is the asynq payload for a queued delivery.
type DispatchPayload struct {
	NotificationID string `json:"notification_id"`
}

// Notifier persists a notification record and queues its delivery. Delivery
// is best effort: a failure to enqueue leaves the record behind for a later
// sweep and is never fatal to the caller's operation.
type Notifier struct {
	db     *gorm.DB
	node   *snowflake.Node
	client *asynq.Client
}

type NotifierParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Client *asynq.Client `optional:"true"`
}

func NewNotifier(p NotifierParams) *Notifier {
	return &Notifier{db: p.DB, node: p.Node, client: p.Client}
}

// Emit records one notification and enqueues its dispatch on the low queue.
func (n *Notifier) Emit(ctx context.Context, recipientID, notifType string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	record := &Notification{
		ID:          n.node.Generate().String(),
		RecipientID: recipientID,
		Type:        notifType,
		Metadata:    datatypes.JSON(meta),
		CreatedAt:   time.Now(),
	}
	if err := n.db.WithContext(ctx).Create(record).Error; err != nil {
		return err
	}

	if n.client == nil {
		return nil
	}

	payload, err := json.Marshal(DispatchPayload{NotificationID: record.ID})
	if err != nil {
		return err
	}

	_, err = n.client.EnqueueContext(ctx, asynq.NewTask(taskname.NotifyDispatch, payload), asynq.Queue("low"))
	if err != nil {
		zap.L().Error("failed to enqueue notification dispatch",
			zap.String("notification_id", record.ID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// HandleDispatch is the worker-side delivery handler. The external sink is
// not part of this system; delivery is logging plus a dispatched stamp.
func (n *Notifier) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	var record Notification
	err := n.db.WithContext(ctx).Where("id = ?", payload.NotificationID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("notification vanished before dispatch", zap.String("notification_id", payload.NotificationID))
			return nil
		}
		return err
	}

	zap.L().Info("notification dispatched",
		zap.String("notification_id", record.ID),
		zap.String("recipient_id", record.RecipientID),
		zap.String("type", record.Type),
	)

	now := time.Now()
	return n.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", record.ID).
		Update("dispatched_at", &now).Error
}
