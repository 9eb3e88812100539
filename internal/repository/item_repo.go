package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"gorm.io/gorm"
)

type ItemRepository interface {
	CreateBatch(ctx context.Context, items []*domain.BatchItem) error
	GetByID(ctx context.Context, id string) (*domain.BatchItem, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.BatchItem, error)
	Save(ctx context.Context, item *domain.BatchItem) error
	StartQueued(ctx context.Context, batchID string, startedAt time.Time) (int64, error)
	SkipPending(ctx context.Context, batchID string, finishedAt time.Time) (int64, error)
}

type GormItemRepo struct {
	db *gorm.DB
}

func NewGormItemRepo(db *gorm.DB) *GormItemRepo {
	return &GormItemRepo{db: db}
}

func (r *GormItemRepo) CreateBatch(ctx context.Context, items []*domain.BatchItem) error {
	models := make([]BatchItemModel, 0, len(items))
	modelIndexes := make([]int, 0, len(items))
	for i, item := range items {
		model := itemModelFromDomain(item)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(items) && items[idx] != nil {
			*items[idx] = *itemModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormItemRepo) GetByID(ctx context.Context, id string) (*domain.BatchItem, error) {
	var model BatchItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemModelToDomain(&model), nil
}

// ListByBatch returns a batch's items in install order, ties broken by creation order.
func (r *GormItemRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	var models []BatchItemModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("install_order ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.BatchItem, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, nil
}

func (r *GormItemRepo) Save(ctx context.Context, item *domain.BatchItem) error {
	model := itemModelFromDomain(item)
	if model == nil || model.ID == "" {
		return domain.ErrNotFound
	}

	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("id = ?", model.ID).
		Select("*").
		Omit("id", "batch_id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StartQueued moves every queued item of a batch to installing with a start
// timestamp, returning how many rows moved.
func (r *GormItemRepo) StartQueued(ctx context.Context, batchID string, startedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("batch_id = ? AND state = ?", batchID, domain.ItemStateQueued).
		Updates(map[string]any{
			"state":      domain.ItemStateInstalling,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SkipPending marks queued and installing items as skipped, used by cancellation.
func (r *GormItemRepo) SkipPending(ctx context.Context, batchID string, finishedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("batch_id = ? AND state IN ?", batchID,
			[]domain.ItemState{domain.ItemStateQueued, domain.ItemStateInstalling}).
		Updates(map[string]any{
			"state":       domain.ItemStateSkipped,
			"finished_at": finishedAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
