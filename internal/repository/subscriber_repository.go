package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/portal-dispatch/internal/model"
)

// SubscriberRepositoryInterface defines the subscriber reads used by the resolver and tracking
type SubscriberRepositoryInterface interface {
	ActiveIDs(ctx context.Context, workspaceID int) ([]int, error)
	ActiveIDsForTags(ctx context.Context, workspaceID int, tagIDs []int) ([]int, error)
	GetByHash(ctx context.Context, workspaceID int, hash string) (*model.Subscriber, error)
	GetByID(ctx context.Context, id int) (*model.Subscriber, error)
	ListByIDs(ctx context.Context, ids []int) ([]model.Subscriber, error)
}

// SubscriberRepository is the concrete implementation
type SubscriberRepository struct {
	DB *sql.DB
}

// ActiveIDs lists every subscribed member of the workspace
func (r *SubscriberRepository) ActiveIDs(ctx context.Context, workspaceID int) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id FROM subscribers
        WHERE workspace_id = $1 AND unsubscribed_at IS NULL
        ORDER BY id
    `, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("active subscribers: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ActiveIDsForTags returns the distinct active members of any of the tags.
// Tags that do not exist (or belong to another workspace) match nobody.
func (r *SubscriberRepository) ActiveIDsForTags(ctx context.Context, workspaceID int, tagIDs []int) ([]int, error) {
	if len(tagIDs) == 0 {
		return []int{}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
        SELECT DISTINCT s.id
        FROM subscribers s
        JOIN tag_subscriber ts ON ts.subscriber_id = s.id
        JOIN tags t ON t.id = ts.tag_id AND t.workspace_id = s.workspace_id
        WHERE s.workspace_id = $1
          AND s.unsubscribed_at IS NULL
          AND ts.tag_id = ANY($2)
        ORDER BY s.id
    `, workspaceID, pq.Array(tagIDs))
	if err != nil {
		return nil, fmt.Errorf("tag subscribers: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// GetByHash fetches a subscriber by its public hash; nil when absent
func (r *SubscriberRepository) GetByHash(ctx context.Context, workspaceID int, hash string) (*model.Subscriber, error) {
	row := r.DB.QueryRowContext(ctx, `
        SELECT id, workspace_id, email, hash, unsubscribed_at
        FROM subscribers
        WHERE workspace_id = $1 AND hash = $2
    `, workspaceID, hash)
	return scanSubscriber(row)
}

// GetByID fetches a subscriber by ID; nil when absent
func (r *SubscriberRepository) GetByID(ctx context.Context, id int) (*model.Subscriber, error) {
	row := r.DB.QueryRowContext(ctx, `
        SELECT id, workspace_id, email, hash, unsubscribed_at
        FROM subscribers
        WHERE id = $1
    `, id)
	return scanSubscriber(row)
}

func (r *SubscriberRepository) ListByIDs(ctx context.Context, ids []int) ([]model.Subscriber, error) {
	subscribers := []model.Subscriber{}
	if len(ids) == 0 {
		return subscribers, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, workspace_id, email, hash, unsubscribed_at
        FROM subscribers
        WHERE id = ANY($1)
        ORDER BY id
    `, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Email, &s.Hash, &s.UnsubscribedAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

func scanSubscriber(row *sql.Row) (*model.Subscriber, error) {
	var s model.Subscriber
	if err := row.Scan(&s.ID, &s.WorkspaceID, &s.Email, &s.Hash, &s.UnsubscribedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &s, nil
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
