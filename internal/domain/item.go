package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemState represents the install state of a single package within a batch.
type ItemState string

const (
	ItemStateQueued     ItemState = "QUEUED"
	ItemStateInstalling ItemState = "INSTALLING"
	ItemStateCompleted  ItemState = "COMPLETED"
	ItemStateFailed     ItemState = "FAILED"
	ItemStateSkipped    ItemState = "SKIPPED"
)

func (s ItemState) String() string { return string(s) }

func (s ItemState) IsValid() bool {
	switch s {
	case ItemStateQueued, ItemStateInstalling, ItemStateCompleted, ItemStateFailed, ItemStateSkipped:
		return true
	}
	return false
}

func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemStateCompleted, ItemStateFailed, ItemStateSkipped:
		return true
	}
	return false
}

// CanTransitionTo enforces forward-only item transitions:
// QUEUED -> {INSTALLING, SKIPPED}, INSTALLING -> {COMPLETED, FAILED, SKIPPED}.
func (s ItemState) CanTransitionTo(next ItemState) bool {
	switch s {
	case ItemStateQueued:
		return next == ItemStateInstalling || next == ItemStateSkipped
	case ItemStateInstalling:
		return next == ItemStateCompleted || next == ItemStateFailed || next == ItemStateSkipped
	}
	return false
}

// UpdateLevel classifies how far a version change reaches.
type UpdateLevel string

const (
	UpdateLevelMajor UpdateLevel = "MAJOR"
	UpdateLevelMinor UpdateLevel = "MINOR"
	UpdateLevelPatch UpdateLevel = "PATCH"
)

func (l UpdateLevel) String() string { return string(l) }

func (l UpdateLevel) IsValid() bool {
	switch l {
	case UpdateLevelMajor, UpdateLevelMinor, UpdateLevelPatch:
		return true
	}
	return false
}

func ParseUpdateLevelFromString(s string) (UpdateLevel, error) {
	l := UpdateLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("%w: invalid update level %q", ErrValidation, s)
	}
	return l, nil
}

// BatchItem is one package's install unit within a BatchRequest. InstallOrder
// defines the sequence the reconciler assumes the external installer follows.
type BatchItem struct {
	ID              string      `gorm:"type:uuid;primaryKey"`
	BatchID         string      `gorm:"type:uuid;not null"`
	PackageID       string      `gorm:"type:varchar(255);not null"`
	PackageName     string      `gorm:"type:varchar(255)"`
	FromVersion     string      `gorm:"type:varchar(64)"`
	ToVersion       string      `gorm:"type:varchar(64);not null"`
	UpdateLevel     UpdateLevel `gorm:"type:varchar(10);not null"`
	State           ItemState   `gorm:"type:varchar(20);not null"`
	InstallOrder    int         `gorm:"not null"`
	Progress        int         `gorm:"not null;default:0"`
	StatusMessage   *string     `gorm:"type:text"`
	ErrorMessage    *string     `gorm:"type:text"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
	DurationSeconds int `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (i *BatchItem) Validate() error {
	if i.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if i.PackageID == "" {
		return fmt.Errorf("%w: package id is required", ErrValidation)
	}
	if i.ToVersion == "" {
		return fmt.Errorf("%w: target version is required", ErrValidation)
	}
	if !i.UpdateLevel.IsValid() {
		return fmt.Errorf("%w: invalid update level %q", ErrValidation, i.UpdateLevel)
	}
	if !i.State.IsValid() {
		return fmt.Errorf("%w: invalid item state %q", ErrValidation, i.State)
	}
	if i.Progress < 0 || i.Progress > 100 {
		return fmt.Errorf("%w: item progress %d out of range", ErrValidation, i.Progress)
	}
	return nil
}
