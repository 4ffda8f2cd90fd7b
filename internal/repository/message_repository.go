package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/portal-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	// CreateForCampaign inserts the campaign message for a subscriber unless one
	// already exists or the subscriber can no longer receive it. It reports
	// whether a row was created.
	CreateForCampaign(ctx context.Context, campaign *model.Campaign, subscriberID int) (bool, error)
	CountsForCampaign(ctx context.Context, campaignID int) (model.MessageCounts, error)
	GetByID(ctx context.Context, id int) (*model.Message, error)
	MarkSent(ctx context.Context, id int, transportID string) (*model.Message, error)
}

type MessageRepository struct {
	DB *sql.DB
}

// The insert evaluates the send guard at creation time: the subscriber must
// still be active and must not hold an email_sent ledger row for any campaign
// excluded by this one. The unique key turns a duplicate into a no-op.
const createCampaignMessage = `
    INSERT INTO messages (workspace_id, subscriber_id, source_type, source_id, created_at, updated_at)
    SELECT s.workspace_id, s.id, 'campaign', $1, NOW(), NOW()
    FROM subscribers s
    WHERE s.id = $2
      AND s.workspace_id = $3
      AND s.unsubscribed_at IS NULL
      AND NOT EXISTS (
          SELECT 1
          FROM campaign_exclusions ce
          JOIN tracking_events te
            ON te.campaign_id = ce.excluded_campaign_id
           AND te.task_type = 'email_sent'
          WHERE ce.campaign_id = $1
            AND te.subscriber_id = s.id
      )
    ON CONFLICT (source_type, source_id, subscriber_id) DO NOTHING
`

func (r *MessageRepository) CreateForCampaign(ctx context.Context, campaign *model.Campaign, subscriberID int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, createCampaignMessage, campaign.ID, subscriberID, campaign.WorkspaceID)
	if err != nil {
		return false, fmt.Errorf("create message campaign=%d subscriber=%d: %w", campaign.ID, subscriberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *MessageRepository) CountsForCampaign(ctx context.Context, campaignID int) (model.MessageCounts, error) {
	var c model.MessageCounts
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*), COUNT(sent_at)
        FROM messages
        WHERE source_type = 'campaign' AND source_id = $1
    `, campaignID).Scan(&c.Total, &c.Sent)
	if err != nil {
		return c, fmt.Errorf("count messages campaign=%d: %w", campaignID, err)
	}
	return c, nil
}

// GetByID fetches a message by its ID; nil when absent
func (r *MessageRepository) GetByID(ctx context.Context, id int) (*model.Message, error) {
	row := r.DB.QueryRowContext(ctx, `
        SELECT id, workspace_id, subscriber_id, source_type, source_id, COALESCE(message_id, ''), sent_at, created_at, updated_at
        FROM messages
        WHERE id = $1
    `, id)
	return scanMessage(row)
}

// MarkSent stamps sent_at once and records the transport's message id.
func (r *MessageRepository) MarkSent(ctx context.Context, id int, transportID string) (*model.Message, error) {
	row := r.DB.QueryRowContext(ctx, `
        UPDATE messages
        SET message_id = $2,
            sent_at = COALESCE(sent_at, NOW()),
            updated_at = NOW()
        WHERE id = $1
        RETURNING id, workspace_id, subscriber_id, source_type, source_id, COALESCE(message_id, ''), sent_at, created_at, updated_at
    `, id, transportID)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*model.Message, error) {
	var msg model.Message
	err := row.Scan(
		&msg.ID, &msg.WorkspaceID, &msg.SubscriberID, &msg.SourceType, &msg.SourceID,
		&msg.MessageID, &msg.SentAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
