package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"gorm.io/gorm"
)

type ActivityRepository interface {
	// Append inserts the entry with the next per-batch sequence number. Entries
	// are immutable once written.
	Append(ctx context.Context, e *domain.ActivityEntry) error
	ListByBatch(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error)
}

type GormActivityRepo struct {
	db *gorm.DB
}

func NewGormActivityRepo(db *gorm.DB) *GormActivityRepo {
	return &GormActivityRepo{db: db}
}

func (r *GormActivityRepo) Append(ctx context.Context, e *domain.ActivityEntry) error {
	model := activityModelFromDomain(e)
	if model == nil {
		return domain.ErrValidation
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSequence int64
		err := tx.Model(&ActivityEntryModel{}).
			Where("batch_id = ?", model.BatchID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSequence).Error
		if err != nil {
			return err
		}

		model.Sequence = maxSequence + 1
		return tx.Create(model).Error
	})
	if err != nil {
		return err
	}

	if e != nil {
		*e = *activityModelToDomain(model)
	}
	return nil
}

// ListByBatch returns entries newest-first by sequence. A since timestamp
// restricts to entries created after it; limit is clamped to 200.
func (r *GormActivityRepo) ListByBatch(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 200)

	query := r.db.WithContext(ctx).
		Model(&ActivityEntryModel{}).
		Where("batch_id = ?", batchID)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}

	var models []ActivityEntryModel
	err := query.
		Order("sequence DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ActivityEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *activityModelToDomain(&models[i]))
	}

	return entries, nil
}
