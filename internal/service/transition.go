package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/metrics"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/queue"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// Command is a side effect requested by a status transition.
type Command interface {
	command()
}

// ScheduleDispatch runs the dispatch pipeline for the campaign after Delay.
type ScheduleDispatch struct {
	CampaignID int
	Delay      time.Duration
}

// FlagZeroRecipients holds a queued campaign back for operator attention.
type FlagZeroRecipients struct {
	CampaignID  int
	WorkspaceID int
}

func (ScheduleDispatch) command()   {}
func (FlagZeroRecipients) command() {}

// Transition decides what a status change must trigger. Entering Queued with
// at least one recipient schedules dispatch; with none it only raises a flag.
func Transition(c *model.Campaign, from, to model.CampaignStatus, recipients int, delay time.Duration) []Command {
	if to != model.StatusQueued || from == model.StatusQueued {
		return nil
	}
	return queuedCommands(c, recipients, delay)
}

func queuedCommands(c *model.Campaign, recipients int, delay time.Duration) []Command {
	if recipients == 0 {
		return []Command{FlagZeroRecipients{CampaignID: c.ID, WorkspaceID: c.WorkspaceID}}
	}
	return []Command{ScheduleDispatch{CampaignID: c.ID, Delay: delay}}
}

// StatusChange reports the outcome of an operator status change.
type StatusChange struct {
	CampaignID     int                  `json:"campaign_id"`
	From           model.CampaignStatus `json:"from_status_id"`
	To             model.CampaignStatus `json:"status_id"`
	Recipients     *int                 `json:"recipients,omitempty"`
	DispatchQueued bool                 `json:"dispatch_queued"`
	ZeroRecipients bool                 `json:"zero_recipients"`
}

// Orchestrator applies campaign status changes and executes the commands they produce.
type Orchestrator struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Resolver     *RecipientResolver
	Queue        queue.Queue
	Delay        time.Duration
	Log          *zap.Logger
}

// ChangeStatus is the operator override: a conditional update from the
// campaign's current status to the requested one.
func (o *Orchestrator) ChangeStatus(ctx context.Context, workspaceID, campaignID int, to model.CampaignStatus) (*StatusChange, error) {
	if !to.Valid() {
		return nil, appErrors.ErrInvalidCampaignStatus
	}
	c, err := loadCampaign(ctx, o.CampaignRepo, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	return o.move(ctx, c, c.Status, to)
}

// Reprocess puts a sending campaign back into Queued so the pipeline creates
// whatever messages are still missing. A campaign already in Queued gets its
// dispatch job published again, which recovers from a lost or failed publish.
func (o *Orchestrator) Reprocess(ctx context.Context, workspaceID, campaignID int) (*StatusChange, error) {
	c, err := loadCampaign(ctx, o.CampaignRepo, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.StatusSending:
		return o.move(ctx, c, model.StatusSending, model.StatusQueued)
	case model.StatusQueued:
		change := &StatusChange{CampaignID: c.ID, From: model.StatusQueued, To: model.StatusQueued}
		err := o.schedule(ctx, c, change, func(n int) []Command {
			return queuedCommands(c, n, o.Delay)
		})
		if err != nil {
			return nil, err
		}
		return change, nil
	}
	return nil, fmt.Errorf("%w: reprocess requires status %s or %s, campaign is %s",
		appErrors.ErrInvalidCampaignStatus, model.StatusSending, model.StatusQueued, c.Status)
}

func (o *Orchestrator) move(ctx context.Context, c *model.Campaign, from, to model.CampaignStatus) (*StatusChange, error) {
	won, err := o.CampaignRepo.UpdateStatusIf(ctx, c.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !won {
		o.Log.Info("status change lost race",
			zap.Int("campaign_id", c.ID),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return nil, appErrors.ErrStatusConflict
	}
	o.Log.Info("campaign status changed",
		zap.Int("campaign_id", c.ID),
		zap.Int("workspace_id", c.WorkspaceID),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	change := &StatusChange{CampaignID: c.ID, From: from, To: to}
	if to != model.StatusQueued || from == model.StatusQueued {
		return change, nil
	}

	err = o.schedule(ctx, c, change, func(n int) []Command {
		return Transition(c, from, to, n, o.Delay)
	})
	if err != nil {
		// A Queued campaign without a job would never dispatch, so undo the move.
		if _, rerr := o.CampaignRepo.UpdateStatusIf(context.WithoutCancel(ctx), c.ID, to, from); rerr != nil {
			o.Log.Error("status rollback failed",
				zap.Int("campaign_id", c.ID),
				zap.Stringer("to", from),
				zap.Error(rerr))
		} else {
			o.Log.Warn("status change rolled back",
				zap.Int("campaign_id", c.ID),
				zap.Stringer("status", from),
				zap.Error(err))
		}
		return nil, err
	}
	return change, nil
}

// schedule counts recipients for a campaign entering Queued and executes
// the commands decided for that count.
func (o *Orchestrator) schedule(ctx context.Context, c *model.Campaign, change *StatusChange, decide func(recipients int) []Command) error {
	n, err := o.Resolver.Count(ctx, c)
	if err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}
	change.Recipients = &n

	for _, cmd := range decide(n) {
		switch cmd.(type) {
		case ScheduleDispatch:
			change.DispatchQueued = true
		case FlagZeroRecipients:
			change.ZeroRecipients = true
		}
		if err := o.Execute(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case ScheduleDispatch:
		job := queue.DispatchJob{
			JobID:       uuid.NewString(),
			CampaignID:  c.CampaignID,
			RequestedAt: time.Now().UTC(),
		}
		if err := o.Queue.Publish(ctx, queue.TopicCampaignDispatch, job, c.Delay); err != nil {
			return fmt.Errorf("schedule dispatch for campaign %d: %w", c.CampaignID, err)
		}
		o.Log.Info("dispatch scheduled",
			zap.Int("campaign_id", c.CampaignID),
			zap.String("job_id", job.JobID),
			zap.Duration("delay", c.Delay))
	case FlagZeroRecipients:
		metrics.CampaignsZeroRecipients.Inc()
		o.Log.Warn("queued campaign has zero recipients; not dispatching",
			zap.Int("campaign_id", c.CampaignID),
			zap.Int("workspace_id", c.WorkspaceID))
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
	return nil
}
