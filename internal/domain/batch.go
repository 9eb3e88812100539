package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchState represents the lifecycle state of a batch install request.
type BatchState string

const (
	BatchStateDraft      BatchState = "DRAFT"
	BatchStateScheduled  BatchState = "SCHEDULED"
	BatchStateInProgress BatchState = "IN_PROGRESS"
	BatchStateCompleted  BatchState = "COMPLETED"
	BatchStateFailed     BatchState = "FAILED"
	BatchStatePartial    BatchState = "PARTIAL"
	BatchStateCancelled  BatchState = "CANCELLED"
)

func (s BatchState) String() string { return string(s) }

func (s BatchState) IsValid() bool {
	switch s {
	case BatchStateDraft, BatchStateScheduled, BatchStateInProgress,
		BatchStateCompleted, BatchStateFailed, BatchStatePartial, BatchStateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s BatchState) IsTerminal() bool {
	switch s {
	case BatchStateCompleted, BatchStateFailed, BatchStatePartial, BatchStateCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the forward-only batch lifecycle:
// DRAFT -> {SCHEDULED, IN_PROGRESS, CANCELLED}, SCHEDULED -> {IN_PROGRESS, CANCELLED},
// IN_PROGRESS -> {COMPLETED, FAILED, PARTIAL, CANCELLED}. Terminal states admit nothing.
func (s BatchState) CanTransitionTo(next BatchState) bool {
	switch s {
	case BatchStateDraft:
		return next == BatchStateScheduled || next == BatchStateInProgress || next == BatchStateCancelled
	case BatchStateScheduled:
		return next == BatchStateInProgress || next == BatchStateCancelled
	case BatchStateInProgress:
		switch next {
		case BatchStateCompleted, BatchStateFailed, BatchStatePartial, BatchStateCancelled:
			return true
		}
	}
	return false
}

func ParseBatchStateFromString(s string) (BatchState, error) {
	st := BatchState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch state %q", ErrValidation, s)
	}
	return st, nil
}

// BatchRequest is one user-initiated request to install a set of packages together.
// It is never deleted; cancellation is a terminal state, not a deletion.
type BatchRequest struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	RequestedBy     string     `gorm:"type:varchar(255);not null"`
	State           BatchState `gorm:"type:varchar(20);not null"`
	TotalApps       int        `gorm:"not null"`
	CompletedApps   int        `gorm:"not null;default:0"`
	FailedApps      int        `gorm:"not null;default:0"`
	SkippedApps     int        `gorm:"not null;default:0"`
	OverallProgress int        `gorm:"not null;default:0"`
	ScheduledStart  *time.Time
	ActualStart     *time.Time
	ActualEnd       *time.Time
	DurationSeconds int     `gorm:"not null;default:0"`
	Manifest        string  `gorm:"type:text"`
	HandleRef       *string `gorm:"type:varchar(255)"`
	ErrorSummary    *string `gorm:"type:text"`
	Notes           *string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *BatchRequest) Validate() error {
	if b.RequestedBy == "" {
		return fmt.Errorf("%w: requestedBy is required", ErrValidation)
	}
	if !b.State.IsValid() {
		return fmt.Errorf("%w: invalid batch state %q", ErrValidation, b.State)
	}
	if b.TotalApps <= 0 {
		return fmt.Errorf("%w: batch must include at least one item", ErrValidation)
	}
	if b.OverallProgress < 0 || b.OverallProgress > 100 {
		return fmt.Errorf("%w: overall progress %d out of range", ErrValidation, b.OverallProgress)
	}
	if b.CompletedApps+b.FailedApps+b.SkippedApps > b.TotalApps {
		return fmt.Errorf("%w: item counts exceed total (%d+%d+%d > %d)",
			ErrValidation, b.CompletedApps, b.FailedApps, b.SkippedApps, b.TotalApps)
	}
	return nil
}
