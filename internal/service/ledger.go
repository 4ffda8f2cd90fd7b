package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/logger"
	"github.com/unclebandit/portal-dispatch/internal/metrics"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// Ledger is the single write path into tracking_events. Concurrent writers for
// the same (campaign, subscriber, task type) are serialised by the store's
// upsert, so last write wins on status, metadata and tracked_at.
type Ledger struct {
	Repo repository.TrackingRepositoryInterface
	Log  *zap.Logger
	Now  func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *Ledger) Record(
	ctx context.Context,
	campaign *model.Campaign,
	subscriber *model.Subscriber,
	task model.TaskType,
	status model.TrackingStatus,
	metadata json.RawMessage,
) (*model.TrackingEvent, error) {
	ev := &model.TrackingEvent{
		CampaignID:     campaign.ID,
		SubscriberID:   subscriber.ID,
		SubscriberHash: subscriber.Hash,
		TaskType:       task,
		Status:         status,
		Metadata:       metadata,
		TrackedAt:      l.now(),
	}
	if err := l.Repo.Upsert(ctx, ev); err != nil {
		return nil, err
	}

	metrics.TrackingEventsRecorded.WithLabelValues(string(task)).Inc()
	l.Log.Debug("tracking event recorded",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("subscriber_id", subscriber.ID),
		logger.Email(subscriber.Email),
		zap.String("task_type", string(task)),
		zap.String("status", string(status)))
	return ev, nil
}

// NormalizeMetadata turns the metadata query value into stored JSON. The value
// may be a JSON document, a JSON string wrapping a document, or plain text.
func NormalizeMetadata(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		b, _ := json.Marshal(raw)
		return b
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil && json.Valid([]byte(inner)) && inner != "" {
		return json.RawMessage(inner)
	}
	return json.RawMessage(raw)
}
