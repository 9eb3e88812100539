package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	State     *domain.BatchState
	Requester *string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type BatchRepository interface {
	Create(ctx context.Context, b *domain.BatchRequest) error
	GetByID(ctx context.Context, id string) (*domain.BatchRequest, error)
	Save(ctx context.Context, b *domain.BatchRequest) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	List(ctx context.Context, params ListParams) ([]domain.BatchRequest, int64, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.BatchRequest) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchRequest, error) {
	var model BatchRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

// Save writes the full record back. Callers follow read-modify-write against
// the latest persisted value; no locks are held across reconciler poll intervals.
func (r *GormBatchRepo) Save(ctx context.Context, b *domain.BatchRequest) error {
	model := batchModelFromDomain(b)
	if model == nil || model.ID == "" {
		return domain.ErrNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&BatchRequestModel{}).
		Where("id = ?", model.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateProgress persists overall progress without touching the rest of the
// record. Progress only ever moves forward while a batch is active.
func (r *GormBatchRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	result := r.db.WithContext(ctx).
		Model(&BatchRequestModel{}).
		Where("id = ? AND overall_progress <= ?", id, progress).
		Update("overall_progress", progress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) List(ctx context.Context, params ListParams) ([]domain.BatchRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&BatchRequestModel{})

	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.Requester != nil {
		query = query.Where("requested_by = ?", *params.Requester)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
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
	pageSize = min(pageSize, 100)

	var models []BatchRequestModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	batches := make([]domain.BatchRequest, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, total, nil
}
