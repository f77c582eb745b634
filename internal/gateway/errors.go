package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// GatewayError classifies mail gateway call failures as transient/permanent.
// The engine does not retry either kind; the classification is kept on the
// failure reason for operators.
type GatewayError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure looks temporary on the gateway side.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
