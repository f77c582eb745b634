package domain

import "time"

// Event is the payload fanned out to observers on every accepted transition
// that changes observable state.
type Event struct {
	TrackingID  string    `json:"trackingId"`
	Status      Status    `json:"status"`
	TargetEmail string    `json:"targetEmail"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventFromAttempt builds the broadcast payload for an attempt's current
// state.
func EventFromAttempt(a *Attempt) Event {
	return Event{
		TrackingID:  a.TrackingID,
		Status:      a.Status,
		TargetEmail: a.TargetEmail,
		Timestamp:   a.StatusTimestamp(),
	}
}
