package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/portal-dispatch/internal/model"
)

type ExclusionRepositoryInterface interface {
	ExcludedCampaignIDs(ctx context.Context, campaignID int) ([]int, error)
	List(ctx context.Context, campaignID int) ([]model.CampaignExclusion, error)
	// Replace swaps the full exclusion set of a campaign in one transaction.
	Replace(ctx context.Context, campaignID int, excludedIDs []int) error
	Remove(ctx context.Context, campaignID, excludedID int) (bool, error)
}

type ExclusionRepository struct {
	DB *sql.DB
}

func (r *ExclusionRepository) ExcludedCampaignIDs(ctx context.Context, campaignID int) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT excluded_campaign_id FROM campaign_exclusions
        WHERE campaign_id = $1
        ORDER BY excluded_campaign_id
    `, campaignID)
	if err != nil {
		return nil, fmt.Errorf("excluded campaigns: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *ExclusionRepository) List(ctx context.Context, campaignID int) ([]model.CampaignExclusion, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT campaign_id, excluded_campaign_id, created_at FROM campaign_exclusions
        WHERE campaign_id = $1
        ORDER BY excluded_campaign_id
    `, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	out := []model.CampaignExclusion{}
	for rows.Next() {
		var e model.CampaignExclusion
		if err := rows.Scan(&e.CampaignID, &e.ExcludedCampaignID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExclusionRepository) Replace(ctx context.Context, campaignID int, excludedIDs []int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_exclusions WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear exclusions: %w", err)
	}
	if len(excludedIDs) > 0 {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO campaign_exclusions (campaign_id, excluded_campaign_id, created_at)
            SELECT $1, unnest($2::int[]), NOW()
            ON CONFLICT DO NOTHING
        `, campaignID, pq.Array(excludedIDs))
		if err != nil {
			return fmt.Errorf("insert exclusions: %w", err)
		}
	}
	return tx.Commit()
}

func (r *ExclusionRepository) Remove(ctx context.Context, campaignID, excludedID int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        DELETE FROM campaign_exclusions
        WHERE campaign_id = $1 AND excluded_campaign_id = $2
    `, campaignID, excludedID)
	if err != nil {
		return false, fmt.Errorf("remove exclusion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ ExclusionRepositoryInterface = (*ExclusionRepository)(nil)
