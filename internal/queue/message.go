package queue

import (
	"fmt"
	"strings"
)

// DispatchMessage is the broker payload asking a worker to deliver one
// attempt through the mail gateway.
type DispatchMessage struct {
	AttemptID  string `json:"attemptId"`
	TrackingID string `json:"trackingId"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if strings.TrimSpace(m.TrackingID) == "" {
		return fmt.Errorf("trackingId is required")
	}
	return nil
}
