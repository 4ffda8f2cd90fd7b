package appErrors

import (
    "errors"
    "fmt"
)

// ErrCampaignNotFound is returned when a campaign lookup misses
type ErrCampaignNotFound struct {
    CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

type ErrSubscriberNotFound struct {
    Hash string
}

func (e *ErrSubscriberNotFound) Error() string {
    return fmt.Sprintf("subscriber with hash %q not found", e.Hash)
}

func NewSubscriberNotFound(hash string) error {
    return &ErrSubscriberNotFound{Hash: hash}
}

// IsNotFound reports whether err is any of the lookup-miss errors.
func IsNotFound(err error) bool {
    var c *ErrCampaignNotFound
    var s *ErrSubscriberNotFound
    return errors.As(err, &c) || errors.As(err, &s)
}

// Validation errors, surfaced to callers as 4xx.
var (
    ErrInvalidTaskType       = errors.New("invalid task type")
    ErrInvalidTrackingStatus = errors.New("invalid tracking status")
    ErrInvalidRecipientsType = errors.New("invalid recipients type")
    ErrInvalidCampaignStatus = errors.New("invalid campaign status")
    ErrSelfExclusion         = errors.New("campaign cannot exclude itself")
    ErrForeignCampaign       = errors.New("excluded campaign belongs to another workspace")
)

// ErrStatusConflict means a conditional status update lost its race.
var ErrStatusConflict = errors.New("campaign status changed concurrently")
