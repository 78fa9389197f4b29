package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"dividi/internal/amqp"
	"dividi/internal/core"
	"dividi/internal/ledger"
)

// ActivityWorker stores group activities consumed from the message queue.
type ActivityWorker struct {
	store     ledger.ActivityWriter
	processed atomic.Int64
}

func NewActivityWorker(store ledger.ActivityWriter) *ActivityWorker {
	return &ActivityWorker{store: store}
}

// HandleActivity persists one activity message. Storing the same message
// twice leaves a single record, so requeued deliveries are safe.
func (w *ActivityWorker) HandleActivity(ctx context.Context, msg *amqp.ActivityMessage) error {
	a := msg.Activity()
	switch a.Type {
	case core.ActivityExpenseAdded, core.ActivitySettlementAdded,
		core.ActivityGroupUpdate, core.ActivityMemberAdded:
	default:
		slog.WarnContext(ctx, "Storing activity with unknown type", "id", a.ID, "type", a.Type)
	}

	if err := w.store.RecordActivity(ctx, a); err != nil {
		return fmt.Errorf("record activity %s: %w", a.ID, err)
	}
	w.processed.Add(1)

	slog.InfoContext(ctx, "Stored activity",
		"id", a.ID,
		"group_id", a.GroupID,
		"type", a.Type)
	return nil
}

// Processed returns how many messages were stored since start.
func (w *ActivityWorker) Processed() int64 {
	return w.processed.Load()
}
