package metrics

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    TrackingEventsRecorded = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "tracking_events_recorded_total",
            Help: "Ledger rows inserted or updated, by task type",
        },
        []string{"task_type"},
    )

    // reason: campaign_not_found, subscriber_not_found, store_error
    TrackingEventsDropped = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "tracking_events_dropped_total",
            Help: "Tracking requests answered with a pixel but not recorded",
        },
        []string{"reason"},
    )

    DispatchMessagesCreated = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "dispatch_messages_created_total",
            Help: "Messages created by the dispatch pipeline",
        },
    )

    // outcome: completed, aborted, failed, locked
    DispatchRuns = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "dispatch_runs_total",
            Help: "Dispatch pipeline executions by outcome",
        },
        []string{"outcome"},
    )

    // action: marked_sent, stuck, in_progress, race_lost, error
    AuditCampaigns = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "audit_campaigns_total",
            Help: "Campaigns evaluated by the stuck-campaign auditor, by action",
        },
        []string{"action"},
    )

    CampaignsZeroRecipients = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "campaigns_zero_recipients_total",
            Help: "Queued campaigns held back because they resolved to zero recipients",
        },
    )
)
