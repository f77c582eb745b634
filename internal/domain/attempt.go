package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Status represents the lifecycle state of a phishing attempt.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusOpened  Status = "OPENED"
	StatusClicked Status = "CLICKED"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusOpened, StatusClicked, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// transitions is the closed transition graph over Status. A status may only
// move forward to one of its listed successors; FAILED and CLICKED have no
// successors.
var transitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusFailed},
	StatusSent:    {StatusOpened, StatusClicked},
	StatusOpened:  {StatusClicked},
	StatusClicked: {},
	StatusFailed:  {},
}

// CanTransitionTo reports whether the transition graph allows moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Attempt is the core domain entity: one simulated phishing message sent to
// one recipient, tracked through its lifecycle. TrackingID is assigned once
// at creation and correlates engagement callbacks back to the attempt.
type Attempt struct {
	ID                string
	TrackingID        string
	CampaignID        *string
	TargetEmail       string
	TemplateID        string
	Subject           string
	Content           string
	Status            Status
	FailureReason     *string
	ProviderMessageID *string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
	OpenedAt          *time.Time
	ClickedAt         *time.Time
}

func (a *Attempt) Validate() error {
	if a.TargetEmail == "" {
		return fmt.Errorf("%w: targetEmail is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(a.TargetEmail); err != nil {
		return fmt.Errorf("%w: targetEmail %q is not a valid address", ErrValidation, a.TargetEmail)
	}
	if a.TemplateID == "" {
		return fmt.Errorf("%w: templateId is required", ErrValidation)
	}
	if a.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if a.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if a.CreatedBy == "" {
		return fmt.Errorf("%w: createdBy is required", ErrValidation)
	}
	return nil
}

// MarkSent applies PENDING -> SENT and sets sentAt.
func (a *Attempt) MarkSent(at time.Time) error {
	if !a.Status.CanTransitionTo(StatusSent) {
		return fmt.Errorf("%w: cannot mark %s attempt as sent", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusSent
	a.SentAt = &at
	return nil
}

// MarkFailed applies PENDING -> FAILED. FAILED is terminal: no further
// transitions are accepted for the attempt.
func (a *Attempt) MarkFailed(reason string) error {
	if !a.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: cannot mark %s attempt as failed", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusFailed
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		a.FailureReason = &trimmed
	}
	return nil
}

// MarkOpened applies SENT -> OPENED and sets openedAt. Repeated opens on an
// OPENED or CLICKED attempt are accepted without mutating state; changed
// reports whether observable state moved.
func (a *Attempt) MarkOpened(at time.Time) (changed bool, err error) {
	switch a.Status {
	case StatusOpened, StatusClicked:
		return false, nil
	case StatusSent:
		a.Status = StatusOpened
		a.OpenedAt = &at
		return true, nil
	default:
		return false, fmt.Errorf("%w: cannot record open on %s attempt", ErrInvalidTransition, a.Status)
	}
}

// MarkClicked applies SENT or OPENED -> CLICKED and sets clickedAt. A click
// implies an open: on a still-SENT attempt openedAt is backfilled with the
// click time. A repeated click is accepted without mutating state.
func (a *Attempt) MarkClicked(at time.Time) (changed bool, err error) {
	switch a.Status {
	case StatusClicked:
		return false, nil
	case StatusSent, StatusOpened:
		if a.OpenedAt == nil {
			a.OpenedAt = &at
		}
		a.Status = StatusClicked
		a.ClickedAt = &at
		return true, nil
	default:
		return false, fmt.Errorf("%w: cannot record click on %s attempt", ErrInvalidTransition, a.Status)
	}
}

// StatusTimestamp returns the timestamp of the transition that produced the
// current status, falling back to createdAt for PENDING and FAILED.
func (a *Attempt) StatusTimestamp() time.Time {
	switch a.Status {
	case StatusSent:
		if a.SentAt != nil {
			return *a.SentAt
		}
	case StatusOpened:
		if a.OpenedAt != nil {
			return *a.OpenedAt
		}
	case StatusClicked:
		if a.ClickedAt != nil {
			return *a.ClickedAt
		}
	}
	return a.CreatedAt
}
