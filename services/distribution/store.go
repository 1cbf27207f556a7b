package distribution

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Store persists the revenue-pool feed for the weekly window query.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) *Store {
	return &Store{db: p.DB, node: p.Node}
}

func (s *Store) Record(ctx context.Context, event *RevenueEvent) error {
	if event.ID == "" {
		event.ID = s.node.Generate().String()
	}
	if event.Kind == "" {
		event.Kind = string(KindCharge)
	}
	if event.Status == "" {
		event.Status = string(EventConfirmed)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

// ConfirmedInWindow returns the confirmed events of [from, to) in stable
// order.
func (s *Store) ConfirmedInWindow(ctx context.Context, from, to time.Time) ([]RevenueEvent, error) {
	var events []RevenueEvent
	err := s.db.WithContext(ctx).
		Where("status = ? AND occurred_at >= ? AND occurred_at < ?", EventConfirmed, from, to).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
