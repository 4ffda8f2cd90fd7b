package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/lock"
	"github.com/unclebandit/portal-dispatch/internal/metrics"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/repository"
)

// DefaultStuckThreshold is the one threshold used by the auditor and by
// progress displays.
const DefaultStuckThreshold = 10 * time.Minute

type AuditAction string

const (
	ActionMarkedSent AuditAction = "marked_sent"
	ActionWouldMark  AuditAction = "would_mark_sent"
	ActionStuck      AuditAction = "stuck"
	ActionInProgress AuditAction = "in_progress"
	ActionRaceLost   AuditAction = "race_lost"
	ActionError      AuditAction = "error"
)

// Verdict is the pure evaluation of one sending campaign.
type Verdict struct {
	Counts   model.MessageCounts `json:"counts"`
	Complete bool                `json:"complete"`
	Stuck    bool                `json:"stuck"`
}

// Evaluate applies the reconciliation table: nothing to send or everything
// sent means complete; partial progress untouched for longer than threshold
// means stuck.
func Evaluate(c *model.Campaign, counts model.MessageCounts, now time.Time, threshold time.Duration) Verdict {
	v := Verdict{Counts: counts}
	if counts.Total == 0 || counts.Sent >= counts.Total {
		v.Complete = true
		return v
	}
	v.Stuck = now.Sub(c.UpdatedAt) > threshold
	return v
}

type AuditResult struct {
	CampaignID int                 `json:"campaign_id"`
	Counts     model.MessageCounts `json:"counts"`
	Action     AuditAction         `json:"action"`
	Error      string              `json:"error,omitempty"`
}

type AuditReport struct {
	Checked int           `json:"checked"`
	Fixed   int           `json:"fixed"`
	Stuck   []int         `json:"stuck"`
	Results []AuditResult `json:"results"`
}

// Progress is the operator view of a campaign's delivery.
type Progress struct {
	CampaignID int                  `json:"campaign_id"`
	Status     model.CampaignStatus `json:"status_id"`
	Verdict
}

// Auditor reconciles Sending campaigns with their message completion.
type Auditor struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Locks        lock.Factory
	Threshold    time.Duration
	AutoFix      bool
	Now          func() time.Time
	Log          *zap.Logger
}

func (a *Auditor) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Auditor) threshold() time.Duration {
	if a.Threshold > 0 {
		return a.Threshold
	}
	return DefaultStuckThreshold
}

// Run scans every Sending campaign once. Each campaign is handled on its own;
// the returned error joins whatever went wrong along the way.
func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{Stuck: []int{}, Results: []AuditResult{}}

	if a.Locks != nil {
		l := a.Locks.New("audit:stuck-campaigns", a.threshold())
		ok, err := l.Acquire(ctx)
		if err != nil {
			return report, fmt.Errorf("audit lock: %w", err)
		}
		if !ok {
			a.Log.Info("another auditor run is active; skipping")
			return report, nil
		}
		defer func() {
			if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
				a.Log.Warn("audit lock release failed", zap.Error(rerr))
			}
		}()
	}

	campaigns, err := a.CampaignRepo.ListByStatus(ctx, model.StatusSending)
	if err != nil {
		return report, fmt.Errorf("list sending campaigns: %w", err)
	}

	var errs []error
	for _, c := range campaigns {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := a.auditOne(ctx, c)
		report.Checked++
		report.Results = append(report.Results, res)
		metrics.AuditCampaigns.WithLabelValues(string(res.Action)).Inc()

		switch res.Action {
		case ActionMarkedSent:
			report.Fixed++
		case ActionStuck:
			report.Stuck = append(report.Stuck, c.ID)
		case ActionError:
			errs = append(errs, fmt.Errorf("campaign %d: %w", c.ID, err))
		}
	}

	a.Log.Info("audit finished",
		zap.Int("checked", report.Checked),
		zap.Int("fixed", report.Fixed),
		zap.Ints("stuck", report.Stuck),
		zap.Int("errors", len(errs)))
	return report, errors.Join(errs...)
}

func (a *Auditor) auditOne(ctx context.Context, c *model.Campaign) (AuditResult, error) {
	log := a.Log.With(zap.Int("campaign_id", c.ID))
	res := AuditResult{CampaignID: c.ID}

	counts, err := a.MessageRepo.CountsForCampaign(ctx, c.ID)
	if err != nil {
		log.Error("count messages failed", zap.Error(err))
		res.Action, res.Error = ActionError, err.Error()
		return res, err
	}
	res.Counts = counts

	v := Evaluate(c, counts, a.now(), a.threshold())
	switch {
	case v.Complete && !a.AutoFix:
		res.Action = ActionWouldMark
	case v.Complete:
		won, err := a.CampaignRepo.UpdateStatusIf(ctx, c.ID, model.StatusSending, model.StatusSent)
		if err != nil {
			log.Error("mark sent failed", zap.Error(err))
			res.Action, res.Error = ActionError, err.Error()
			return res, err
		}
		if !won {
			log.Info("campaign already transitioned by another writer")
			res.Action = ActionRaceLost
			return res, nil
		}
		log.Info("campaign marked sent", zap.Int("total", counts.Total), zap.Int("sent", counts.Sent))
		res.Action = ActionMarkedSent
	case v.Stuck:
		log.Warn("campaign appears stuck",
			zap.Int("total", counts.Total),
			zap.Int("sent", counts.Sent),
			zap.Time("updated_at", c.UpdatedAt))
		res.Action = ActionStuck
	default:
		res.Action = ActionInProgress
	}
	return res, nil
}

// Inspect evaluates one campaign for display without changing it.
func (a *Auditor) Inspect(ctx context.Context, workspaceID, campaignID int) (*Progress, error) {
	c, err := loadCampaign(ctx, a.CampaignRepo, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := a.MessageRepo.CountsForCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	p := &Progress{CampaignID: c.ID, Status: c.Status}
	if c.Status == model.StatusSending {
		p.Verdict = Evaluate(c, counts, a.now(), a.threshold())
	} else {
		p.Verdict = Verdict{Counts: counts, Complete: c.Status == model.StatusSent}
	}
	return p, nil
}
