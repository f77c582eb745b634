package domain

import "time"

// CampaignStatus represents the creation outcome of a campaign.
type CampaignStatus string

const (
	CampaignStatusProcessing     CampaignStatus = "PROCESSING"
	CampaignStatusCompleted      CampaignStatus = "COMPLETED"
	CampaignStatusPartialFailure CampaignStatus = "PARTIAL_FAILURE"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusProcessing, CampaignStatusCompleted, CampaignStatusPartialFailure:
		return true
	}
	return false
}

// Campaign groups the attempts created for one list of targets.
type Campaign struct {
	ID         string
	Name       string
	TotalCount int
	Status     CampaignStatus
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
