// internal/model/campaign.go
package model

import "time"

// CampaignStatus mirrors the status_id column of the campaigns table.
type CampaignStatus int

const (
    StatusDraft     CampaignStatus = 1
    StatusQueued    CampaignStatus = 2
    StatusSending   CampaignStatus = 3
    StatusSent      CampaignStatus = 4
    StatusCancelled CampaignStatus = 5
)

var statusNames = map[CampaignStatus]string{
    StatusDraft:     "draft",
    StatusQueued:    "queued",
    StatusSending:   "sending",
    StatusSent:      "sent",
    StatusCancelled: "cancelled",
}

func (s CampaignStatus) String() string {
    if name, ok := statusNames[s]; ok {
        return name
    }
    return "unknown"
}

func (s CampaignStatus) Valid() bool {
    _, ok := statusNames[s]
    return ok
}

// Terminal reports whether no further automatic transition leaves s.
func (s CampaignStatus) Terminal() bool {
    return s == StatusSent || s == StatusCancelled
}

type Campaign struct {
    ID          int            `db:"id" json:"id"`
    WorkspaceID int            `db:"workspace_id" json:"workspace_id"`
    Name        string         `db:"name" json:"name"`
    Status      CampaignStatus `db:"status_id" json:"status_id"`
    SendToAll   bool           `db:"send_to_all" json:"send_to_all"`
    TagIDs      []int          `db:"-" json:"tag_ids,omitempty"`
    CreatedAt   time.Time      `db:"created_at" json:"created_at"`
    UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Targeting returns the recipient selection stored on the campaign.
func (c *Campaign) Targeting() Targeting {
    if c.SendToAll {
        return Targeting{Type: RecipientsAll}
    }
    return Targeting{Type: RecipientsTags, TagIDs: c.TagIDs}
}
