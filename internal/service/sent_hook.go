package service

import (
	"context"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// SentinelTransportID is what some transports report instead of a real id.
// It still means the message was accepted.
const SentinelTransportID = "-1"

// SentHook records email_sent in the ledger once the transport accepts a
// campaign message. It never fails the confirmation path.
type SentHook struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	MessageRepo    repository.MessageRepositoryInterface
	Ledger         *Ledger
	Log            *zap.Logger
}

// Confirm marks the message sent and runs the hook. Only a failure to mark the
// message is returned; tracking problems are logged.
func (h *SentHook) Confirm(ctx context.Context, messageID int, transportID string) error {
	msg, err := h.MessageRepo.MarkSent(ctx, messageID, transportID)
	if err != nil {
		return err
	}
	if msg == nil {
		h.Log.Warn("sent confirmation for unknown message", zap.Int("message_id", messageID))
		return nil
	}
	if transportID == SentinelTransportID {
		h.Log.Debug("transport returned sentinel id", zap.Int("message_id", messageID))
	}
	h.MessageSent(ctx, msg)
	return nil
}

// MessageSent upserts (campaign, subscriber, email_sent) with status opened,
// the ledger's marker for "happened".
func (h *SentHook) MessageSent(ctx context.Context, msg *model.Message) {
	log := h.Log.With(zap.Int("message_id", msg.ID))

	if !msg.IsCampaign() {
		return
	}
	if msg.SubscriberID == 0 {
		log.Warn("sent message has no subscriber; skipping tracking")
		return
	}

	campaign, err := h.CampaignRepo.GetByID(ctx, msg.SourceID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Warn("sent message campaign missing; skipping tracking", zap.Int("campaign_id", msg.SourceID))
		} else {
			log.Error("load campaign for sent tracking", zap.Int("campaign_id", msg.SourceID), zap.Error(err))
		}
		return
	}

	subscriber, err := h.SubscriberRepo.GetByID(ctx, msg.SubscriberID)
	if err != nil {
		log.Error("load subscriber for sent tracking", zap.Int("subscriber_id", msg.SubscriberID), zap.Error(err))
		return
	}
	if subscriber == nil {
		log.Warn("sent message subscriber missing; skipping tracking", zap.Int("subscriber_id", msg.SubscriberID))
		return
	}

	if _, err := h.Ledger.Record(ctx, campaign, subscriber, model.TaskEmailSent, model.TrackingOpened, nil); err != nil {
		log.Error("record email_sent failed",
			zap.Int("campaign_id", campaign.ID),
			zap.Int("subscriber_id", subscriber.ID),
			zap.Error(err))
	}
}
