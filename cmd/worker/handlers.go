package main

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/queue"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

type dispatchRunner interface {
	Run(ctx context.Context, campaignID int) (*service.DispatchState, error)
}

type sentConfirmer interface {
	Confirm(ctx context.Context, messageID int, transportID string) error
}

// dispatchHandler runs the pipeline for one job. A malformed job is dropped;
// pipeline failures go back to the queue for a retry.
func dispatchHandler(runner dispatchRunner, log *zap.Logger) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var job queue.DispatchJob
		if err := json.Unmarshal(body, &job); err != nil || job.CampaignID <= 0 {
			log.Error("invalid dispatch job", zap.ByteString("body", body), zap.Error(err))
			return nil
		}
		_, err := runner.Run(ctx, job.CampaignID)
		return err
	}
}

func sentHandler(confirmer sentConfirmer, log *zap.Logger) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var job queue.SentJob
		if err := json.Unmarshal(body, &job); err != nil || job.MessageID <= 0 {
			log.Error("invalid sent confirmation", zap.ByteString("body", body), zap.Error(err))
			return nil
		}
		return confirmer.Confirm(ctx, job.MessageID, job.TransportMessageID)
	}
}
