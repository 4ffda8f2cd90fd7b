package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

func TestSentHook_ConfirmRecordsEmailSent(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1, Status: model.StatusSending})
	f.db.addSubscribers(1, 7)
	msg := f.db.addMessage(model.Message{WorkspaceID: 1, SourceID: 1, SubscriberID: 7})

	require.NoError(t, f.hook.Confirm(context.Background(), msg.ID, "ses-123"))

	ev := f.db.event(1, 7, model.TaskEmailSent)
	require.NotNil(t, ev)
	assert.Equal(t, model.TrackingOpened, ev.Status)
	assert.Equal(t, "hash-7", ev.SubscriberHash)

	counts, err := messageRepo{f.db}.CountsForCampaign(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.MessageCounts{Total: 1, Sent: 1}, counts)
}

func TestSentHook_SentinelTransportIDStillRecords(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addSubscribers(1, 7)
	msg := f.db.addMessage(model.Message{SourceID: 1, SubscriberID: 7})

	require.NoError(t, f.hook.Confirm(context.Background(), msg.ID, service.SentinelTransportID))

	assert.NotNil(t, f.db.event(1, 7, model.TaskEmailSent))
}

func TestSentHook_ConfirmTwiceKeepsOneRow(t *testing.T) {
	f := newFixture(t)
	f.db.addCampaign(model.Campaign{ID: 1})
	f.db.addSubscribers(1, 7)
	msg := f.db.addMessage(model.Message{SourceID: 1, SubscriberID: 7})

	require.NoError(t, f.hook.Confirm(context.Background(), msg.ID, "a"))
	require.NoError(t, f.hook.Confirm(context.Background(), msg.ID, "a"))

	assert.Equal(t, 1, f.db.eventCount())
}

func TestSentHook_SkipsWithoutFailing(t *testing.T) {
	tests := []struct {
		name string
		msg  model.Message
	}{
		{"automation message", model.Message{SourceType: model.SourceAutomation, SourceID: 1, SubscriberID: 7}},
		{"missing campaign", model.Message{SourceID: 99, SubscriberID: 7}},
		{"missing subscriber", model.Message{SourceID: 1, SubscriberID: 404}},
		{"no subscriber", model.Message{SourceID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.db.addCampaign(model.Campaign{ID: 1})
			f.db.addSubscribers(1, 7)
			msg := f.db.addMessage(tt.msg)

			require.NoError(t, f.hook.Confirm(context.Background(), msg.ID, "x"))
			assert.Equal(t, 0, f.db.eventCount())
		})
	}
}

func TestSentHook_UnknownMessage(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.hook.Confirm(context.Background(), 12345, "x"))
}
