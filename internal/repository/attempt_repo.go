package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/phishsim/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status     *domain.Status
	CampaignID *string
	Page       int
	PageSize   int
}

// StatusCount is one row of a per-status attempt count.
type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int           `gorm:"column:count"`
}

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	GetByID(ctx context.Context, id string) (*domain.Attempt, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Attempt, error)
	List(ctx context.Context, params ListParams) ([]domain.Attempt, int64, error)
	UpdateTransition(ctx context.Context, a *domain.Attempt) error
	CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return domain.ErrDuplicateTracking
		}
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	var model AttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Attempt, error) {
	var model AttemptModel
	err := r.db.WithContext(ctx).
		Where("tracking_id = ?", trackingID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) List(ctx context.Context, params ListParams) ([]domain.Attempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&AttemptModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 500)

	var models []AttemptModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, total, nil
}

// UpdateTransition persists the transition-owned fields of an attempt. All
// other columns are creation-time and never change.
func (r *GormAttemptRepo) UpdateTransition(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return domain.ErrNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&AttemptModel{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"status":              a.Status,
			"sent_at":             a.SentAt,
			"opened_at":           a.OpenedAt,
			"clicked_at":          a.ClickedAt,
			"failure_reason":      a.FailureReason,
			"provider_message_id": a.ProviderMessageID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAttemptRepo) CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&AttemptModel{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
