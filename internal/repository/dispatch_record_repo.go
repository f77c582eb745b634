package repository

import (
	"context"

	"github.com/phishsim/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type DispatchRecordRepository interface {
	Create(ctx context.Context, r *domain.DispatchRecord) error
}

type GormDispatchRecordRepo struct {
	db *gorm.DB
}

func NewGormDispatchRecordRepo(db *gorm.DB) *GormDispatchRecordRepo {
	return &GormDispatchRecordRepo{db: db}
}

func (r *GormDispatchRecordRepo) Create(ctx context.Context, record *domain.DispatchRecord) error {
	model := dispatchRecordModelFromDomain(record)
	return r.db.WithContext(ctx).Create(model).Error
}
