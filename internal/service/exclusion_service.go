package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// ExclusionService maintains campaign -> excluded campaign rules and resolves
// them into the subscribers a campaign must skip.
type ExclusionService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	ExclusionRepo repository.ExclusionRepositoryInterface
	TrackingRepo  repository.TrackingRepositoryInterface
	Log           *zap.Logger
}

// ExcludedSubscribers returns every subscriber holding an email_sent ledger row
// for a campaign that campaignID excludes.
func (s *ExclusionService) ExcludedSubscribers(ctx context.Context, campaignID int) (map[int]struct{}, error) {
	excludedCampaigns, err := s.ExclusionRepo.ExcludedCampaignIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]struct{})
	if len(excludedCampaigns) == 0 {
		return out, nil
	}

	ids, err := s.TrackingRepo.SubscriberIDsWithTask(ctx, excludedCampaigns, model.TaskEmailSent)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *ExclusionService) List(ctx context.Context, workspaceID, campaignID int) ([]model.CampaignExclusion, error) {
	if _, err := loadCampaign(ctx, s.CampaignRepo, workspaceID, campaignID); err != nil {
		return nil, err
	}
	return s.ExclusionRepo.List(ctx, campaignID)
}

// Replace swaps the exclusion set. A campaign listed as excluding itself is
// dropped; duplicates collapse; campaigns outside the workspace are rejected.
func (s *ExclusionService) Replace(ctx context.Context, workspaceID, campaignID int, excludedIDs []int) ([]int, error) {
	if _, err := loadCampaign(ctx, s.CampaignRepo, workspaceID, campaignID); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(excludedIDs))
	ids := make([]int, 0, len(excludedIDs))
	for _, id := range excludedIDs {
		if id == campaignID {
			s.Log.Info("ignoring self exclusion", zap.Int("campaign_id", campaignID))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Ints(ids)

	known, err := s.CampaignRepo.IDsInWorkspace(ctx, workspaceID, ids)
	if err != nil {
		return nil, err
	}
	if len(known) != len(ids) {
		return nil, appErrors.ErrForeignCampaign
	}

	if err := s.ExclusionRepo.Replace(ctx, campaignID, ids); err != nil {
		return nil, err
	}
	s.Log.Info("campaign exclusions replaced",
		zap.Int("campaign_id", campaignID),
		zap.Int("workspace_id", workspaceID),
		zap.Ints("excluded_campaign_ids", ids))
	return ids, nil
}

// Remove deletes one exclusion. Removing a rule that does not exist is not an error.
func (s *ExclusionService) Remove(ctx context.Context, workspaceID, campaignID, excludedID int) error {
	if excludedID == campaignID {
		return appErrors.ErrSelfExclusion
	}
	if _, err := loadCampaign(ctx, s.CampaignRepo, workspaceID, campaignID); err != nil {
		return err
	}
	removed, err := s.ExclusionRepo.Remove(ctx, campaignID, excludedID)
	if err != nil {
		return err
	}
	s.Log.Info("campaign exclusion removed",
		zap.Int("campaign_id", campaignID),
		zap.Int("excluded_campaign_id", excludedID),
		zap.Bool("existed", removed))
	return nil
}

// loadCampaign fetches a campaign and hides campaigns of other workspaces.
func loadCampaign(ctx context.Context, repo repository.CampaignRepositoryInterface, workspaceID, id int) (*model.Campaign, error) {
	c, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.WorkspaceID != workspaceID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}
