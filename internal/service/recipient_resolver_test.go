package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
)

func TestResolve_ExcludesSubscribersSentByExcludedCampaign(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 10, Status: model.StatusSent})
	f.db.addCampaign(model.Campaign{ID: 20, Status: model.StatusDraft, SendToAll: true})
	f.db.addSubscribers(1, 1, 2, 3, 4, 5)
	f.db.sentLedger(10, 1, 2, 3)
	f.db.exclude(20, 10)

	ids, err := f.resolver.Resolve(context.Background(), 1, 20, model.Targeting{Type: model.RecipientsAll})

	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, ids)
}

func TestResolve_TagUnionIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addSubscribers(1, 1, 2, 3, 4)
	f.db.addTag(1, 100, 1, 2, 3)
	f.db.addTag(1, 200, 2, 3, 4)

	ids, err := f.resolver.Resolve(context.Background(), 1, 1,
		model.Targeting{Type: model.RecipientsTags, TagIDs: []int{100, 200}})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, ids)
}

func TestResolve_EmptyTagListSelectsNobody(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addSubscribers(1, 1, 2, 3)

	ids, err := f.resolver.Resolve(context.Background(), 1, 1, model.Targeting{Type: model.RecipientsTags})

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolve_SkipsUnsubscribedAndOtherWorkspaces(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addSubscribers(1, 1, 2, 3)
	f.db.addSubscribers(2, 50, 51)
	f.db.unsubscribe(2)
	f.db.addTag(2, 900, 50, 51)

	all, err := f.resolver.Resolve(context.Background(), 1, 1, model.Targeting{Type: model.RecipientsAll})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, all)

	foreignTag, err := f.resolver.Resolve(context.Background(), 1, 1,
		model.Targeting{Type: model.RecipientsTags, TagIDs: []int{900}})
	require.NoError(t, err)
	assert.Empty(t, foreignTag)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addCampaign(model.Campaign{ID: 2, WorkspaceID: 2})
	f.db.addSubscribers(1, 1, 2)

	t.Run("returns subscribers and count", func(t *testing.T) {
		p, err := f.resolver.Preview(context.Background(), 1, 1, model.Targeting{Type: model.RecipientsAll})
		require.NoError(t, err)
		assert.Equal(t, 2, p.TotalCount)
		require.Len(t, p.Recipients, 2)
		assert.Equal(t, "s1@example.com", p.Recipients[0].Email)
	})

	t.Run("rejects unknown recipients type", func(t *testing.T) {
		_, err := f.resolver.Preview(context.Background(), 1, 1, model.Targeting{Type: "everyone"})
		assert.ErrorIs(t, err, appErrors.ErrInvalidRecipientsType)
	})

	t.Run("hides campaigns of other workspaces", func(t *testing.T) {
		_, err := f.resolver.Preview(context.Background(), 1, 2, model.Targeting{Type: model.RecipientsAll})
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestExclusionService_Replace(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addCampaign(model.Campaign{ID: 2})
	f.db.addCampaign(model.Campaign{ID: 3})
	f.db.addCampaign(model.Campaign{ID: 4, WorkspaceID: 2})
	ctx := context.Background()

	ids, err := f.exclusions.Replace(ctx, 1, 1, []int{3, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids)

	list, err := f.exclusions.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.exclusions.Replace(ctx, 1, 1, []int{2, 4})
	assert.ErrorIs(t, err, appErrors.ErrForeignCampaign)

	ids, err = f.exclusions.Replace(ctx, 1, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	list, err = f.exclusions.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExclusionService_Remove(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addCampaign(model.Campaign{ID: 2})
	f.db.exclude(1, 2)
	ctx := context.Background()

	assert.ErrorIs(t, f.exclusions.Remove(ctx, 1, 1, 1), appErrors.ErrSelfExclusion)
	require.NoError(t, f.exclusions.Remove(ctx, 1, 1, 2))
	require.NoError(t, f.exclusions.Remove(ctx, 1, 1, 2))

	err := f.exclusions.Remove(ctx, 1, 99, 2)
	var notFound *appErrors.ErrCampaignNotFound
	assert.True(t, errors.As(err, &notFound))
}
