package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/metrics"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// TrackRequest is one hit on the public tracking endpoint.
type TrackRequest struct {
	CampaignID     string
	SubscriberHash string
	Task           string
	Status         string
	Metadata       string
	IP             string
	UserAgent      string
}

// ParsedTrack is a TrackRequest that passed validation.
type ParsedTrack struct {
	CampaignID     int
	SubscriberHash string
	TaskType       model.TaskType
	Status         model.TrackingStatus
	Metadata       json.RawMessage
}

// TrackingService ingests funnel events keyed by subscriber hash.
type TrackingService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	Ledger         *Ledger
	Log            *zap.Logger
}

// Parse validates the task indicator and status. Only these are caller errors;
// an unparseable campaign id is treated like an unknown campaign.
func (s *TrackingService) Parse(req TrackRequest) (*ParsedTrack, error) {
	task, ok := model.ParseTaskIndicator(req.Task)
	if !ok {
		return nil, appErrors.ErrInvalidTaskType
	}

	status := model.TrackingOpened
	if req.Status != "" {
		status = model.TrackingStatus(req.Status)
		if !status.Valid() {
			return nil, appErrors.ErrInvalidTrackingStatus
		}
	}

	metadata := NormalizeMetadata(req.Metadata)
	if metadata == nil && (req.IP != "" || req.UserAgent != "") {
		metadata, _ = json.Marshal(map[string]string{"ip": req.IP, "user_agent": req.UserAgent})
	}

	id, _ := strconv.Atoi(req.CampaignID)
	return &ParsedTrack{
		CampaignID:     id,
		SubscriberHash: req.SubscriberHash,
		TaskType:       task,
		Status:         status,
		Metadata:       metadata,
	}, nil
}

// Record writes the event. Not-found errors mean nothing was stored; callers
// on the public path log them and still answer with the pixel.
func (s *TrackingService) Record(ctx context.Context, p *ParsedTrack) (*model.TrackingEvent, error) {
	if p.CampaignID <= 0 {
		return nil, appErrors.NewCampaignNotFound(p.CampaignID)
	}
	campaign, err := s.CampaignRepo.GetByID(ctx, p.CampaignID)
	if err != nil {
		return nil, err
	}

	subscriber, err := s.SubscriberRepo.GetByHash(ctx, campaign.WorkspaceID, p.SubscriberHash)
	if err != nil {
		return nil, err
	}
	if subscriber == nil {
		return nil, appErrors.NewSubscriberNotFound(p.SubscriberHash)
	}

	return s.Ledger.Record(ctx, campaign, subscriber, p.TaskType, p.Status, p.Metadata)
}

// Track parses and records, absorbing every failure except validation.
func (s *TrackingService) Track(ctx context.Context, req TrackRequest) (*model.TrackingEvent, error) {
	parsed, err := s.Parse(req)
	if err != nil {
		return nil, err
	}

	ev, err := s.Record(ctx, parsed)
	if err == nil {
		return ev, nil
	}

	fields := []zap.Field{
		zap.String("campaign_id", req.CampaignID),
		zap.String("subscriber_hash", req.SubscriberHash),
		zap.String("task_type", string(parsed.TaskType)),
		zap.Error(err),
	}
	var campaignMissing *appErrors.ErrCampaignNotFound
	var subscriberMissing *appErrors.ErrSubscriberNotFound
	switch {
	case errors.As(err, &campaignMissing):
		metrics.TrackingEventsDropped.WithLabelValues("campaign_not_found").Inc()
		s.Log.Warn("tracking event not recorded", fields...)
	case errors.As(err, &subscriberMissing):
		metrics.TrackingEventsDropped.WithLabelValues("subscriber_not_found").Inc()
		s.Log.Warn("tracking event not recorded", fields...)
	default:
		metrics.TrackingEventsDropped.WithLabelValues("store_error").Inc()
		s.Log.Error("tracking event not recorded", fields...)
	}
	return nil, nil
}
