package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Gateway is the outbound mail delivery port. Send is the only operation in
// the engine expected to take non-trivial wall-clock time; callers must not
// hold any per-attempt serialization token across it.
type Gateway interface {
	Send(ctx context.Context, d Dispatch) (*Result, error)
}

// Dispatch is one outbound simulated phishing message, with the tracking
// URLs already embedded for the recipient's mail client to hit.
type Dispatch struct {
	TargetEmail      string
	TemplateID       string
	Subject          string
	Content          string
	TrackingOpenURL  string
	TrackingClickURL string
}

func (d Dispatch) Validate() error {
	if strings.TrimSpace(d.TargetEmail) == "" {
		return fmt.Errorf("target email is required")
	}
	if strings.TrimSpace(d.TemplateID) == "" {
		return fmt.Errorf("template id is required")
	}
	if strings.TrimSpace(d.TrackingOpenURL) == "" || strings.TrimSpace(d.TrackingClickURL) == "" {
		return fmt.Errorf("tracking urls are required")
	}
	return nil
}

// Result stores gateway call metadata for audit and persistence.
type Result struct {
	StatusCode        int
	Body              string
	ProviderMessageID string
}
