package model

import (
    "encoding/json"
    "strconv"
    "time"
)

type TaskType string

const (
    TaskEmailSent         TaskType = "email_sent"
    TaskEmailOpened       TaskType = "email_opened"
    TaskEmailClicked      TaskType = "email_clicked"
    TaskNewsletterOpened  TaskType = "newsletter_opened"
    TaskLandingPageOpened TaskType = "landing_page_opened"
    TaskThankYouReceived  TaskType = "thank_you_received"
    TaskAssetDownloaded   TaskType = "asset_downloaded"
)

// taskOrder is the numbering used in tracking URLs: /track/{campaign}/{hash}/{1..7}.
var taskOrder = []TaskType{
    TaskEmailSent,
    TaskEmailOpened,
    TaskEmailClicked,
    TaskNewsletterOpened,
    TaskLandingPageOpened,
    TaskThankYouReceived,
    TaskAssetDownloaded,
}

func TaskTypes() []TaskType {
    out := make([]TaskType, len(taskOrder))
    copy(out, taskOrder)
    return out
}

// ParseTaskIndicator accepts either a task number (1..7) or a literal task type.
func ParseTaskIndicator(s string) (TaskType, bool) {
    if n, err := strconv.Atoi(s); err == nil {
        if n < 1 || n > len(taskOrder) {
            return "", false
        }
        return taskOrder[n-1], true
    }
    for _, t := range taskOrder {
        if string(t) == s {
            return t, true
        }
    }
    return "", false
}

type TrackingStatus string

const (
    TrackingOpened    TrackingStatus = "opened"
    TrackingNotOpened TrackingStatus = "not_opened"
    TrackingPending   TrackingStatus = "pending"
    TrackingFailed    TrackingStatus = "failed"
)

func (s TrackingStatus) Valid() bool {
    switch s {
    case TrackingOpened, TrackingNotOpened, TrackingPending, TrackingFailed:
        return true
    }
    return false
}

// TrackingEvent is one ledger row; (CampaignID, SubscriberID, TaskType) is unique.
type TrackingEvent struct {
    ID             int             `db:"id" json:"id"`
    CampaignID     int             `db:"campaign_id" json:"campaign_id"`
    SubscriberID   int             `db:"subscriber_id" json:"subscriber_id"`
    SubscriberHash string          `db:"subscriber_hash" json:"subscriber_hash"`
    TaskType       TaskType        `db:"task_type" json:"task_type"`
    Status         TrackingStatus  `db:"status" json:"status"`
    Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
    TrackedAt      time.Time       `db:"tracked_at" json:"tracked_at"`
}
