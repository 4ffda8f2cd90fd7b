package model

import "time"

type Subscriber struct {
    ID             int        `db:"id" json:"id"`
    WorkspaceID    int        `db:"workspace_id" json:"workspace_id"`
    Email          string     `db:"email" json:"email"`
    Hash           string     `db:"hash" json:"hash"`
    UnsubscribedAt *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
}

func (s *Subscriber) Active() bool {
    return s.UnsubscribedAt == nil
}

type Tag struct {
    ID          int    `db:"id" json:"id"`
    WorkspaceID int    `db:"workspace_id" json:"workspace_id"`
    Name        string `db:"name" json:"name"`
}

// RecipientsType selects how a campaign picks its audience.
type RecipientsType string

const (
    RecipientsAll  RecipientsType = "send_to_all"
    RecipientsTags RecipientsType = "send_to_tags"
)

func (t RecipientsType) Valid() bool {
    return t == RecipientsAll || t == RecipientsTags
}

type Targeting struct {
    Type   RecipientsType `json:"recipients_type"`
    TagIDs []int          `json:"tag_ids"`
}
