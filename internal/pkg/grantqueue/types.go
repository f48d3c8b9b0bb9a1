package grantqueue

import "time"

// WorkType defines the type of work item
type WorkType string

const (
	WorkTypeGrant   WorkType = "grant"
	WorkTypeNotify  WorkType = "notify"
	WorkTypeApprove WorkType = "approve"
)

// Outcome describes a successful grant.
type Outcome struct {
	InviteLink      string `json:"invite_link,omitempty"`
	MembershipAdded bool   `json:"membership_added,omitempty"`
}

// Result is delivered on the per-item result channel once the consumer has
// finished a grant work item.
type Result struct {
	Outcome Outcome
	Err     error
}

// Work is one queued item. Grant items carry a buffered result channel so
// the submitting goroutine can block for the outcome; notify and approve
// items are fire-and-forget.
type Work struct {
	ID         string
	Type       WorkType
	UserID     int64
	ChatID     int64
	Provider   string
	Reference  string
	Text       string
	EnqueuedAt time.Time

	result chan Result
}
