package services

import (
	"context"
	"log/slog"

	"dividi/internal/core"
	"dividi/internal/ids"
	applog "dividi/internal/log"
	"dividi/internal/metrics"
)

// emit records an activity. Delivery problems never fail the write that
// caused them: a publish error falls back to the store, and a store error
// is only logged.
func (s *BalanceService) emit(ctx context.Context, groupID, actorID string, typ core.ActivityType, desc string) {
	a := core.Activity{
		ID:          ids.New(),
		GroupID:     groupID,
		ActorID:     actorID,
		Type:        typ,
		Description: desc,
		CreatedAt:   s.now(),
	}

	if s.publisher != nil {
		err := s.publisher.PublishActivity(ctx, a)
		if err == nil {
			return
		}
		slog.WarnContext(ctx, "Failed to publish activity, recording directly",
			"group_id", groupID, "activity_id", a.ID, "error", err)
	}

	if err := s.store.RecordActivity(ctx, a); err != nil {
		metrics.ActivityFailed()
		fields := applog.NewFields()
		fields[applog.FieldGroupID] = groupID
		fields[applog.FieldRecordID] = a.ID
		fields[applog.FieldKind] = string(typ)
		applog.NewStructuredLogger(applog.FromContext(ctx)).
			LogError(ctx, "Failed to record activity", err, applog.ComponentActivity, applog.OpCreate, fields)
	}
}
