package model

import "time"

const (
    SourceCampaign   = "campaign"
    SourceAutomation = "automation"
)

// Message is one delivery of a source (campaign or automation step) to one subscriber.
type Message struct {
    ID           int        `db:"id" json:"id"`
    WorkspaceID  int        `db:"workspace_id" json:"workspace_id"`
    SubscriberID int        `db:"subscriber_id" json:"subscriber_id"`
    SourceType   string     `db:"source_type" json:"source_type"`
    SourceID     int        `db:"source_id" json:"source_id"`
    MessageID    string     `db:"message_id" json:"message_id,omitempty"`
    SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
    CreatedAt    time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (m *Message) IsCampaign() bool {
    return m.SourceType == SourceCampaign
}

// MessageCounts is the completion snapshot of a campaign's messages.
type MessageCounts struct {
    Total int `json:"total"`
    Sent  int `json:"sent"`
}

type CampaignExclusion struct {
    CampaignID         int       `db:"campaign_id" json:"campaign_id"`
    ExcludedCampaignID int       `db:"excluded_campaign_id" json:"excluded_campaign_id"`
    CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
