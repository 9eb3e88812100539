package repository

import (
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

// BatchRequestModel is the persistence model for the batch_requests table.
type BatchRequestModel struct {
	ID              string            `gorm:"type:uuid;primaryKey"`
	RequestedBy     string            `gorm:"type:varchar(255);not null"`
	State           domain.BatchState `gorm:"type:varchar(20);not null"`
	TotalApps       int               `gorm:"not null"`
	CompletedApps   int               `gorm:"not null;default:0"`
	FailedApps      int               `gorm:"not null;default:0"`
	SkippedApps     int               `gorm:"not null;default:0"`
	OverallProgress int               `gorm:"not null;default:0"`
	ScheduledStart  *time.Time        `gorm:"type:timestamptz"`
	ActualStart     *time.Time        `gorm:"type:timestamptz"`
	ActualEnd       *time.Time        `gorm:"type:timestamptz"`
	DurationSeconds int               `gorm:"not null;default:0"`
	Manifest        string            `gorm:"type:text"`
	HandleRef       *string           `gorm:"type:varchar(255)"`
	ErrorSummary    *string           `gorm:"type:text"`
	Notes           *string           `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BatchRequestModel) TableName() string {
	return "batch_requests"
}

// BatchItemModel is the persistence model for batch_items.
type BatchItemModel struct {
	ID              string             `gorm:"type:uuid;primaryKey"`
	BatchID         string             `gorm:"type:uuid;not null"`
	PackageID       string             `gorm:"type:varchar(255);not null"`
	PackageName     string             `gorm:"type:varchar(255)"`
	FromVersion     string             `gorm:"type:varchar(64)"`
	ToVersion       string             `gorm:"type:varchar(64);not null"`
	UpdateLevel     domain.UpdateLevel `gorm:"type:varchar(10);not null"`
	State           domain.ItemState   `gorm:"type:varchar(20);not null"`
	InstallOrder    int                `gorm:"not null"`
	Progress        int                `gorm:"not null;default:0"`
	StatusMessage   *string            `gorm:"type:text"`
	ErrorMessage    *string            `gorm:"type:text"`
	StartedAt       *time.Time         `gorm:"type:timestamptz"`
	FinishedAt      *time.Time         `gorm:"type:timestamptz"`
	DurationSeconds int                `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BatchItemModel) TableName() string {
	return "batch_items"
}

// ActivityEntryModel is the persistence model for activity_entries.
type ActivityEntryModel struct {
	ID           string               `gorm:"type:uuid;primaryKey"`
	BatchID      string               `gorm:"type:uuid;not null"`
	ItemID       *string              `gorm:"type:uuid"`
	Sequence     int64                `gorm:"not null"`
	ActivityType domain.ActivityType  `gorm:"type:varchar(10);not null"`
	Phase        domain.ActivityPhase `gorm:"type:varchar(15);not null"`
	Message      string               `gorm:"type:text;not null"`
	Details      *string              `gorm:"type:text"`
	Progress     *int
	CreatedAt    time.Time
}

func (ActivityEntryModel) TableName() string {
	return "activity_entries"
}

func batchModelFromDomain(b *domain.BatchRequest) *BatchRequestModel {
	if b == nil {
		return nil
	}

	return &BatchRequestModel{
		ID:              b.ID,
		RequestedBy:     b.RequestedBy,
		State:           b.State,
		TotalApps:       b.TotalApps,
		CompletedApps:   b.CompletedApps,
		FailedApps:      b.FailedApps,
		SkippedApps:     b.SkippedApps,
		OverallProgress: b.OverallProgress,
		ScheduledStart:  b.ScheduledStart,
		ActualStart:     b.ActualStart,
		ActualEnd:       b.ActualEnd,
		DurationSeconds: b.DurationSeconds,
		Manifest:        b.Manifest,
		HandleRef:       b.HandleRef,
		ErrorSummary:    b.ErrorSummary,
		Notes:           b.Notes,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchRequestModel) *domain.BatchRequest {
	if m == nil {
		return nil
	}

	return &domain.BatchRequest{
		ID:              m.ID,
		RequestedBy:     m.RequestedBy,
		State:           m.State,
		TotalApps:       m.TotalApps,
		CompletedApps:   m.CompletedApps,
		FailedApps:      m.FailedApps,
		SkippedApps:     m.SkippedApps,
		OverallProgress: m.OverallProgress,
		ScheduledStart:  m.ScheduledStart,
		ActualStart:     m.ActualStart,
		ActualEnd:       m.ActualEnd,
		DurationSeconds: m.DurationSeconds,
		Manifest:        m.Manifest,
		HandleRef:       m.HandleRef,
		ErrorSummary:    m.ErrorSummary,
		Notes:           m.Notes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func itemModelFromDomain(i *domain.BatchItem) *BatchItemModel {
	if i == nil {
		return nil
	}

	return &BatchItemModel{
		ID:              i.ID,
		BatchID:         i.BatchID,
		PackageID:       i.PackageID,
		PackageName:     i.PackageName,
		FromVersion:     i.FromVersion,
		ToVersion:       i.ToVersion,
		UpdateLevel:     i.UpdateLevel,
		State:           i.State,
		InstallOrder:    i.InstallOrder,
		Progress:        i.Progress,
		StatusMessage:   i.StatusMessage,
		ErrorMessage:    i.ErrorMessage,
		StartedAt:       i.StartedAt,
		FinishedAt:      i.FinishedAt,
		DurationSeconds: i.DurationSeconds,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

func itemModelToDomain(m *BatchItemModel) *domain.BatchItem {
	if m == nil {
		return nil
	}

	return &domain.BatchItem{
		ID:              m.ID,
		BatchID:         m.BatchID,
		PackageID:       m.PackageID,
		PackageName:     m.PackageName,
		FromVersion:     m.FromVersion,
		ToVersion:       m.ToVersion,
		UpdateLevel:     m.UpdateLevel,
		State:           m.State,
		InstallOrder:    m.InstallOrder,
		Progress:        m.Progress,
		StatusMessage:   m.StatusMessage,
		ErrorMessage:    m.ErrorMessage,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		DurationSeconds: m.DurationSeconds,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func activityModelFromDomain(e *domain.ActivityEntry) *ActivityEntryModel {
	if e == nil {
		return nil
	}

	return &ActivityEntryModel{
		ID:           e.ID,
		BatchID:      e.BatchID,
		ItemID:       e.ItemID,
		Sequence:     e.Sequence,
		ActivityType: e.ActivityType,
		Phase:        e.Phase,
		Message:      e.Message,
		Details:      e.Details,
		Progress:     e.Progress,
		CreatedAt:    e.CreatedAt,
	}
}

func activityModelToDomain(m *ActivityEntryModel) *domain.ActivityEntry {
	if m == nil {
		return nil
	}

	return &domain.ActivityEntry{
		ID:           m.ID,
		BatchID:      m.BatchID,
		ItemID:       m.ItemID,
		Sequence:     m.Sequence,
		ActivityType: m.ActivityType,
		Phase:        m.Phase,
		Message:      m.Message,
		Details:      m.Details,
		Progress:     m.Progress,
		CreatedAt:    m.CreatedAt,
	}
}
