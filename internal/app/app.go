// Package app wires repositories and services for the dispatch binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/config"
	"github.com/unclebandit/portal-dispatch/internal/lock"
	"github.com/unclebandit/portal-dispatch/internal/queue"
	"github.com/unclebandit/portal-dispatch/internal/repository"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

// Services is the object graph shared by server, worker and audit.
type Services struct {
	Exclusions   *service.ExclusionService
	Resolver     *service.RecipientResolver
	Ledger       *service.Ledger
	Tracking     *service.TrackingService
	Orchestrator *service.Orchestrator
	Pipeline     *service.Pipeline
	SentHook     *service.SentHook
	Auditor      *service.Auditor
}

// Build assembles the services. rdb may be nil, which selects advisory locks;
// q may be nil for processes that never publish.
func Build(cfg *config.Config, log *zap.Logger, conn *sql.DB, rdb *redis.Client, q queue.Queue) (*Services, error) {
	complete, err := service.CompleteStrategyFor(cfg.Dispatch.CompleteMode)
	if err != nil {
		return nil, err
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}
	exclusionRepo := &repository.ExclusionRepository{DB: conn}
	trackingRepo := &repository.TrackingRepository{DB: conn}
	locks := lock.NewFactory(rdb, conn)

	exclusions := &service.ExclusionService{
		CampaignRepo:  campaignRepo,
		ExclusionRepo: exclusionRepo,
		TrackingRepo:  trackingRepo,
		Log:           log.Named("exclusions"),
	}
	resolver := &service.RecipientResolver{
		CampaignRepo:   campaignRepo,
		SubscriberRepo: subscriberRepo,
		Exclusions:     exclusions,
		Log:            log.Named("resolver"),
	}
	ledger := &service.Ledger{Repo: trackingRepo, Log: log.Named("ledger")}

	return &Services{
		Exclusions: exclusions,
		Resolver:   resolver,
		Ledger:     ledger,
		Tracking: &service.TrackingService{
			CampaignRepo:   campaignRepo,
			SubscriberRepo: subscriberRepo,
			Ledger:         ledger,
			Log:            log.Named("tracking"),
		},
		Orchestrator: &service.Orchestrator{
			CampaignRepo: campaignRepo,
			Resolver:     resolver,
			Queue:        q,
			Delay:        cfg.Dispatch.Delay,
			Log:          log.Named("orchestrator"),
		},
		Pipeline: &service.Pipeline{
			CampaignRepo: campaignRepo,
			MessageRepo:  messageRepo,
			Resolver:     resolver,
			Locks:        locks,
			LockTTL:      cfg.Dispatch.LockTTL,
			ChunkSize:    cfg.Dispatch.ChunkSize,
			Complete:     complete,
			Log:          log.Named("pipeline"),
		},
		SentHook: &service.SentHook{
			CampaignRepo:   campaignRepo,
			SubscriberRepo: subscriberRepo,
			MessageRepo:    messageRepo,
			Ledger:         ledger,
			Log:            log.Named("sent_hook"),
		},
		Auditor: &service.Auditor{
			CampaignRepo: campaignRepo,
			MessageRepo:  messageRepo,
			Locks:        locks,
			Threshold:    cfg.Audit.StuckThreshold,
			AutoFix:      cfg.Audit.Fix(),
			Log:          log.Named("auditor"),
		},
	}, nil
}

// OpenRedis returns nil when no address is configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// DialQueue connects to RabbitMQ with the configured queue names.
func DialQueue(cfg config.AMQPConfig, log *zap.Logger) (*queue.AMQPQueue, error) {
	q, err := queue.DialAMQP(cfg.URL, log.Named("amqp"))
	if err != nil {
		return nil, err
	}
	q.Queues = map[string]string{
		queue.TopicCampaignDispatch: cfg.DispatchQueue,
		queue.TopicMessageSent:      cfg.SentQueue,
	}
	return q, nil
}
