package service

import (
	"context"
	"fmt"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
)

// ActivitySink receives every recorded activity, e.g. for archiving
type ActivitySink interface {
	Enqueue(a *models.Activity)
}

// ActivityLog appends feed entries and publishes them
type ActivityLog struct {
	store    storage.Store
	notifier Notifier
	sinks    []ActivitySink
	logger   *logging.Logger
}

// NewActivityLog creates an activity log. Sinks are optional.
func NewActivityLog(store storage.Store, notifier Notifier, logger *logging.Logger, sinks ...ActivitySink) *ActivityLog {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ActivityLog{
		store:    store,
		notifier: notifier,
		sinks:    sinks,
		logger:   logger.WithComponent("activity-log"),
	}
}

// Record stores na, broadcasts ACTIVITY_UPDATE and hands the entry to the sinks
func (l *ActivityLog) Record(ctx context.Context, na models.NewActivity) (*models.Activity, error) {
	a, err := l.store.CreateActivity(ctx, na)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s activity: %w", na.Action, err)
	}

	l.notifier.BroadcastActivity(a)
	for _, s := range l.sinks {
		s.Enqueue(a)
	}
	return a, nil
}

// List returns a model's activities, newest first. limit <= 0 returns all.
func (l *ActivityLog) List(ctx context.Context, modelID int64, limit int) ([]*models.Activity, error) {
	activities, err := l.store.ListActivities(ctx, modelID, limit)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch activities", err)
	}
	return activities, nil
}
