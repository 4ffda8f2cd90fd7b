package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
    "github.com/unclebandit/portal-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
    GetByID(ctx context.Context, id int) (*model.Campaign, error)
    ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
    // UpdateStatusIf moves a campaign from one status to another and reports
    // whether this call won; false means another writer got there first.
    UpdateStatusIf(ctx context.Context, id int, from, to model.CampaignStatus) (bool, error)
    IDsInWorkspace(ctx context.Context, workspaceID int, ids []int) ([]int, error)
}

type CampaignRepository struct {
    DB *sql.DB
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
    query := `
        SELECT id, workspace_id, name, status_id, send_to_all, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
    var c model.Campaign
    err := r.DB.QueryRowContext(ctx, query, id).Scan(
        &c.ID, &c.WorkspaceID, &c.Name, &c.Status, &c.SendToAll, &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, fmt.Errorf("get campaign %d: %w", id, err)
    }

    tagIDs, err := r.tagIDs(ctx, id)
    if err != nil {
        return nil, err
    }
    c.TagIDs = tagIDs
    return &c, nil
}

func (r *CampaignRepository) tagIDs(ctx context.Context, campaignID int) ([]int, error) {
    rows, err := r.DB.QueryContext(ctx, `SELECT tag_id FROM campaign_tag WHERE campaign_id=$1 ORDER BY tag_id`, campaignID)
    if err != nil {
        return nil, fmt.Errorf("campaign tags: %w", err)
    }
    defer rows.Close()
    return scanIDs(rows)
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
    query := `
        SELECT id, workspace_id, name, status_id, send_to_all, created_at, updated_at
        FROM campaigns WHERE status_id=$1 ORDER BY id
    `
    rows, err := r.DB.QueryContext(ctx, query, status)
    if err != nil {
        return nil, fmt.Errorf("list campaigns by status: %w", err)
    }
    defer rows.Close()

    campaigns := []*model.Campaign{}
    for rows.Next() {
        c := &model.Campaign{}
        if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &c.SendToAll, &c.CreatedAt, &c.UpdatedAt); err != nil {
            return nil, err
        }
        campaigns = append(campaigns, c)
    }
    return campaigns, rows.Err()
}

func (r *CampaignRepository) UpdateStatusIf(ctx context.Context, id int, from, to model.CampaignStatus) (bool, error) {
    query := `UPDATE campaigns SET status_id=$1, updated_at=NOW() WHERE id=$2 AND status_id=$3`
    res, err := r.DB.ExecContext(ctx, query, to, id, from)
    if err != nil {
        return false, fmt.Errorf("update campaign %d status: %w", id, err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

// IDsInWorkspace returns the subset of ids that name campaigns in the workspace.
func (r *CampaignRepository) IDsInWorkspace(ctx context.Context, workspaceID int, ids []int) ([]int, error) {
    if len(ids) == 0 {
        return []int{}, nil
    }
    rows, err := r.DB.QueryContext(ctx,
        `SELECT id FROM campaigns WHERE workspace_id=$1 AND id = ANY($2) ORDER BY id`,
        workspaceID, pq.Array(ids),
    )
    if err != nil {
        return nil, fmt.Errorf("campaigns in workspace: %w", err)
    }
    defer rows.Close()
    return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int, error) {
    ids := []int{}
    for rows.Next() {
        var id int
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
