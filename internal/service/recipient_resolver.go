package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// RecipientResolver computes who a campaign goes to: active subscribers of the
// workspace (or of the selected tags), minus the exclusion set.
type RecipientResolver struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	Exclusions     *ExclusionService
	Log            *zap.Logger
}

type RecipientPreview struct {
	Recipients []model.Subscriber `json:"recipients"`
	TotalCount int                `json:"total_count"`
}

// Resolve returns the sorted, distinct subscriber ids eligible for the campaign.
func (r *RecipientResolver) Resolve(ctx context.Context, workspaceID, campaignID int, t model.Targeting) ([]int, error) {
	candidates, err := r.candidates(ctx, workspaceID, t)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []int{}, nil
	}

	excluded, err := r.Exclusions.ExcludedSubscribers(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, len(candidates))
	for _, id := range candidates {
		if _, skip := excluded[id]; skip {
			continue
		}
		out = append(out, id)
	}

	if removed := len(candidates) - len(out); removed > 0 {
		r.Log.Debug("recipients excluded",
			zap.Int("campaign_id", campaignID),
			zap.Int("excluded", removed))
	}
	return out, nil
}

// Count is Resolve without keeping the ids.
func (r *RecipientResolver) Count(ctx context.Context, c *model.Campaign) (int, error) {
	ids, err := r.Resolve(ctx, c.WorkspaceID, c.ID, c.Targeting())
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Preview resolves an arbitrary targeting for an existing campaign.
func (r *RecipientResolver) Preview(ctx context.Context, workspaceID, campaignID int, t model.Targeting) (*RecipientPreview, error) {
	if !t.Type.Valid() {
		return nil, appErrors.ErrInvalidRecipientsType
	}
	if _, err := loadCampaign(ctx, r.CampaignRepo, workspaceID, campaignID); err != nil {
		return nil, err
	}

	ids, err := r.Resolve(ctx, workspaceID, campaignID, t)
	if err != nil {
		return nil, err
	}
	subscribers, err := r.SubscriberRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &RecipientPreview{Recipients: subscribers, TotalCount: len(ids)}, nil
}

func (r *RecipientResolver) candidates(ctx context.Context, workspaceID int, t model.Targeting) ([]int, error) {
	var (
		ids []int
		err error
	)
	switch t.Type {
	case model.RecipientsAll:
		ids, err = r.SubscriberRepo.ActiveIDs(ctx, workspaceID)
	case model.RecipientsTags:
		if len(t.TagIDs) == 0 {
			return []int{}, nil
		}
		ids, err = r.SubscriberRepo.ActiveIDsForTags(ctx, workspaceID, t.TagIDs)
	default:
		return nil, appErrors.ErrInvalidRecipientsType
	}
	if err != nil {
		return nil, err
	}
	return distinctSorted(ids), nil
}

func distinctSorted(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
