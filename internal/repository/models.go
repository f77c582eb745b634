package repository

import (
	"time"

	"github.com/phishsim/campaign-engine/internal/domain"
)

// AttemptModel is the persistence model for the attempts table.
type AttemptModel struct {
	ID                string        `gorm:"type:uuid;primaryKey"`
	TrackingID        string        `gorm:"type:varchar(64);not null"`
	CampaignID        *string       `gorm:"type:uuid"`
	TargetEmail       string        `gorm:"type:varchar(255);not null"`
	TemplateID        string        `gorm:"type:varchar(255);not null"`
	Subject           string        `gorm:"type:text;not null"`
	Content           string        `gorm:"type:text;not null"`
	Status            domain.Status `gorm:"type:varchar(20);not null"`
	FailureReason     *string       `gorm:"type:text"`
	ProviderMessageID *string       `gorm:"type:varchar(255)"`
	CreatedBy         string        `gorm:"type:varchar(255);not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time `gorm:"type:timestamptz"`
	OpenedAt          *time.Time `gorm:"type:timestamptz"`
	ClickedAt         *time.Time `gorm:"type:timestamptz"`
}

func (AttemptModel) TableName() string {
	return "attempts"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID         string                `gorm:"type:uuid;primaryKey"`
	Name       string                `gorm:"type:varchar(255);not null"`
	TotalCount int                   `gorm:"not null"`
	Status     domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	CreatedBy  string                `gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// DispatchRecordModel is the persistence model for dispatch_records.
type DispatchRecordModel struct {
	ID                string  `gorm:"type:uuid;primaryKey"`
	AttemptID         string  `gorm:"type:uuid;not null"`
	StatusCode        *int    `gorm:"type:int"`
	ProviderMessageID *string `gorm:"type:varchar(255)"`
	Error             *string `gorm:"type:text"`
	CreatedAt         time.Time
}

func (DispatchRecordModel) TableName() string {
	return "dispatch_records"
}

func attemptModelFromDomain(a *domain.Attempt) *AttemptModel {
	if a == nil {
		return nil
	}

	return &AttemptModel{
		ID:                a.ID,
		TrackingID:        a.TrackingID,
		CampaignID:        a.CampaignID,
		TargetEmail:       a.TargetEmail,
		TemplateID:        a.TemplateID,
		Subject:           a.Subject,
		Content:           a.Content,
		Status:            a.Status,
		FailureReason:     a.FailureReason,
		ProviderMessageID: a.ProviderMessageID,
		CreatedBy:         a.CreatedBy,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		SentAt:            a.SentAt,
		OpenedAt:          a.OpenedAt,
		ClickedAt:         a.ClickedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	return &domain.Attempt{
		ID:                m.ID,
		TrackingID:        m.TrackingID,
		CampaignID:        m.CampaignID,
		TargetEmail:       m.TargetEmail,
		TemplateID:        m.TemplateID,
		Subject:           m.Subject,
		Content:           m.Content,
		Status:            m.Status,
		FailureReason:     m.FailureReason,
		ProviderMessageID: m.ProviderMessageID,
		CreatedBy:         m.CreatedBy,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		SentAt:            m.SentAt,
		OpenedAt:          m.OpenedAt,
		ClickedAt:         m.ClickedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:         c.ID,
		Name:       c.Name,
		TotalCount: c.TotalCount,
		Status:     c.Status,
		CreatedBy:  c.CreatedBy,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:         m.ID,
		Name:       m.Name,
		TotalCount: m.TotalCount,
		Status:     m.Status,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func dispatchRecordModelFromDomain(r *domain.DispatchRecord) *DispatchRecordModel {
	if r == nil {
		return nil
	}

	return &DispatchRecordModel{
		ID:                r.ID,
		AttemptID:         r.AttemptID,
		StatusCode:        r.StatusCode,
		ProviderMessageID: r.ProviderMessageID,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}
