package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/portal-dispatch/internal/model"
)

type TrackingRepositoryInterface interface {
	// Upsert writes the ledger row for (campaign, subscriber, task type),
	// replacing status, metadata and tracked_at when the row already exists.
	Upsert(ctx context.Context, ev *model.TrackingEvent) error
	SubscriberIDsWithTask(ctx context.Context, campaignIDs []int, task model.TaskType) ([]int, error)
}

type TrackingRepository struct {
	DB *sql.DB
}

const upsertTrackingEvent = `
    INSERT INTO tracking_events (campaign_id, subscriber_id, subscriber_hash, task_type, status, metadata, tracked_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    ON CONFLICT (campaign_id, subscriber_id, task_type) DO UPDATE
    SET status = EXCLUDED.status,
        metadata = EXCLUDED.metadata,
        subscriber_hash = EXCLUDED.subscriber_hash,
        tracked_at = EXCLUDED.tracked_at
    RETURNING id
`

func (r *TrackingRepository) Upsert(ctx context.Context, ev *model.TrackingEvent) error {
	var metadata any
	if len(ev.Metadata) > 0 {
		metadata = []byte(ev.Metadata)
	}
	err := r.DB.QueryRowContext(ctx, upsertTrackingEvent,
		ev.CampaignID, ev.SubscriberID, ev.SubscriberHash,
		string(ev.TaskType), string(ev.Status), metadata, ev.TrackedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("upsert tracking event campaign=%d subscriber=%d task=%s: %w",
			ev.CampaignID, ev.SubscriberID, ev.TaskType, err)
	}
	return nil
}

func (r *TrackingRepository) SubscriberIDsWithTask(ctx context.Context, campaignIDs []int, task model.TaskType) ([]int, error) {
	if len(campaignIDs) == 0 {
		return []int{}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
        SELECT DISTINCT subscriber_id FROM tracking_events
        WHERE campaign_id = ANY($1) AND task_type = $2
        ORDER BY subscriber_id
    `, pq.Array(campaignIDs), string(task))
	if err != nil {
		return nil, fmt.Errorf("ledger subscribers: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

var _ TrackingRepositoryInterface = (*TrackingRepository)(nil)
