package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/config"
	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/lock"
	"github.com/unclebandit/portal-dispatch/internal/metrics"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// ErrAbort stops the pipeline without counting as a failure.
var ErrAbort = errors.New("dispatch aborted")

// DispatchState is threaded through the stages of one run.
type DispatchState struct {
	CampaignID  int
	Campaign    *model.Campaign
	Recipients  int
	Created     int
	Skipped     int
	Counts      model.MessageCounts
	FinalStatus model.CampaignStatus
	AbortReason string
}

type Stage struct {
	Name string
	Run  func(ctx context.Context, st *DispatchState) error
}

// CompleteStrategy picks the status a campaign moves to once its messages exist.
type CompleteStrategy func(counts model.MessageCounts) model.CampaignStatus

// CompleteSending leaves delivery tracking to sent_at and the auditor.
func CompleteSending(counts model.MessageCounts) model.CampaignStatus {
	if counts.Total == 0 {
		return model.StatusSent
	}
	return model.StatusSending
}

// CompleteSent marks the campaign sent as soon as messages are created.
func CompleteSent(model.MessageCounts) model.CampaignStatus {
	return model.StatusSent
}

func CompleteStrategyFor(mode string) (CompleteStrategy, error) {
	switch mode {
	case "", config.CompleteModeSending:
		return CompleteSending, nil
	case config.CompleteModeSent:
		return CompleteSent, nil
	}
	return nil, fmt.Errorf("unknown complete mode %q", mode)
}

// Pipeline turns a queued campaign into messages: Start, Create Messages, Complete.
// Every stage is safe to repeat, so a run may be retried or duplicated.
type Pipeline struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Resolver     *RecipientResolver
	Locks        lock.Factory
	LockTTL      time.Duration
	ChunkSize    int
	Complete     CompleteStrategy
	Log          *zap.Logger

	stagesOnce sync.Once
	stages     []Stage
}

// Stages returns the ordered stage list. Safe for concurrent runs.
func (p *Pipeline) Stages() []Stage {
	p.stagesOnce.Do(func() {
		p.stages = []Stage{
			{Name: "start", Run: p.start},
			{Name: "create_messages", Run: p.createMessages},
			{Name: "complete", Run: p.complete},
		}
	})
	return p.stages
}

// Run executes the pipeline once. Aborts return a nil error; failures are
// logged with the campaign id and returned so the job can be retried.
func (p *Pipeline) Run(ctx context.Context, campaignID int) (st *DispatchState, err error) {
	st = &DispatchState{CampaignID: campaignID}
	log := p.Log.With(zap.Int("campaign_id", campaignID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
			log.Error("dispatch pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.DispatchRuns.WithLabelValues("failed").Inc()
		}
	}()

	if p.Locks != nil {
		l := p.Locks.New("dispatch:campaign:"+strconv.Itoa(campaignID), p.LockTTL)
		ok, lerr := l.Acquire(ctx)
		if lerr != nil {
			log.Error("dispatch lock failed", zap.Error(lerr))
			metrics.DispatchRuns.WithLabelValues("failed").Inc()
			return st, lerr
		}
		if !ok {
			st.AbortReason = "another run holds the campaign lock"
			log.Info("dispatch skipped", zap.String("reason", st.AbortReason))
			metrics.DispatchRuns.WithLabelValues("locked").Inc()
			return st, nil
		}
		defer func() {
			if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
				log.Warn("dispatch lock release failed", zap.Error(rerr))
			}
		}()
	}

	for _, stage := range p.Stages() {
		if serr := stage.Run(ctx, st); serr != nil {
			if errors.Is(serr, ErrAbort) {
				log.Info("dispatch aborted",
					zap.String("stage", stage.Name),
					zap.String("reason", st.AbortReason))
				metrics.DispatchRuns.WithLabelValues("aborted").Inc()
				return st, nil
			}
			log.Error("dispatch pipeline failed",
				zap.String("stage", stage.Name),
				zap.Int("created", st.Created),
				zap.Error(serr),
				zap.Stack("stack"))
			metrics.DispatchRuns.WithLabelValues("failed").Inc()
			return st, serr
		}
	}

	log.Info("dispatch completed",
		zap.Int("recipients", st.Recipients),
		zap.Int("created", st.Created),
		zap.Int("skipped", st.Skipped),
		zap.Int("total_messages", st.Counts.Total),
		zap.Stringer("status", st.FinalStatus))
	metrics.DispatchRuns.WithLabelValues("completed").Inc()
	return st, nil
}

func (p *Pipeline) abort(st *DispatchState, reason string) error {
	st.AbortReason = reason
	return ErrAbort
}

// start re-checks the campaign, which may have been cancelled or picked up by
// another trigger since the job was scheduled.
func (p *Pipeline) start(ctx context.Context, st *DispatchState) error {
	c, err := p.CampaignRepo.GetByID(ctx, st.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return p.abort(st, "campaign no longer exists")
		}
		return err
	}
	if c.Status != model.StatusQueued {
		return p.abort(st, "campaign status is "+c.Status.String())
	}
	st.Campaign = c
	return nil
}

func (p *Pipeline) createMessages(ctx context.Context, st *DispatchState) error {
	c := st.Campaign
	ids, err := p.Resolver.Resolve(ctx, c.WorkspaceID, c.ID, c.Targeting())
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	st.Recipients = len(ids)

	size := p.ChunkSize
	if size < 1 {
		size = 1000
	}
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))

		// A cancellation between chunks stops further creation.
		current, err := p.CampaignRepo.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if current.Status != model.StatusQueued {
			return p.abort(st, "campaign status changed to "+current.Status.String())
		}

		for _, subscriberID := range ids[start:end] {
			created, err := p.MessageRepo.CreateForCampaign(ctx, c, subscriberID)
			if err != nil {
				return err
			}
			if created {
				st.Created++
				metrics.DispatchMessagesCreated.Inc()
			} else {
				st.Skipped++
			}
		}
	}
	return nil
}

// complete recounts stored messages rather than trusting this run's tally.
func (p *Pipeline) complete(ctx context.Context, st *DispatchState) error {
	counts, err := p.MessageRepo.CountsForCampaign(ctx, st.CampaignID)
	if err != nil {
		return err
	}
	st.Counts = counts

	complete := p.Complete
	if complete == nil {
		complete = CompleteSending
	}
	to := complete(counts)

	won, err := p.CampaignRepo.UpdateStatusIf(ctx, st.CampaignID, model.StatusQueued, to)
	if err != nil {
		return err
	}
	if !won {
		return p.abort(st, "campaign left queued before completion")
	}
	st.FinalStatus = to
	return nil
}
