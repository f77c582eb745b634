package domain

import "time"

// DispatchRecord is the audit row for a single gateway call made for an
// attempt.
type DispatchRecord struct {
	ID                string
	AttemptID         string
	StatusCode        *int
	ProviderMessageID *string
	Error             *string
	CreatedAt         time.Time
}
