package queue

import "time"

const (
	TopicCampaignDispatch = "campaign_dispatch"
	TopicMessageSent      = "message_sent"
)

// DispatchJob asks a worker to run the dispatch pipeline for a campaign.
type DispatchJob struct {
	JobID       string    `json:"job_id"`
	CampaignID  int       `json:"campaign_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// SentJob is published by the sender once the transport accepted a message.
type SentJob struct {
	MessageID          int    `json:"message_id"`
	TransportMessageID string `json:"transport_message_id"`
}
