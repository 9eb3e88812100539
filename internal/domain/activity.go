package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActivityType categorizes an activity feed entry.
type ActivityType string

const (
	ActivityTypeInfo      ActivityType = "INFO"
	ActivityTypeSuccess   ActivityType = "SUCCESS"
	ActivityTypeWarning   ActivityType = "WARNING"
	ActivityTypeError     ActivityType = "ERROR"
	ActivityTypeProgress  ActivityType = "PROGRESS"
	ActivityTypeStart     ActivityType = "START"
	ActivityTypeComplete  ActivityType = "COMPLETE"
	ActivityTypeMilestone ActivityType = "MILESTONE"
)

func (t ActivityType) String() string { return string(t) }

func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityTypeInfo, ActivityTypeSuccess, ActivityTypeWarning, ActivityTypeError,
		ActivityTypeProgress, ActivityTypeStart, ActivityTypeComplete, ActivityTypeMilestone:
		return true
	}
	return false
}

// ActivityPhase locates an entry within the install pipeline.
type ActivityPhase string

const (
	PhasePreparation  ActivityPhase = "PREPARATION"
	PhaseValidation   ActivityPhase = "VALIDATION"
	PhaseDownload     ActivityPhase = "DOWNLOAD"
	PhaseInstallation ActivityPhase = "INSTALLATION"
	PhasePostInstall  ActivityPhase = "POST_INSTALL"
	PhaseCleanup      ActivityPhase = "CLEANUP"
)

func (p ActivityPhase) String() string { return string(p) }

func (p ActivityPhase) IsValid() bool {
	switch p {
	case PhasePreparation, PhaseValidation, PhaseDownload, PhaseInstallation, PhasePostInstall, PhaseCleanup:
		return true
	}
	return false
}

func ParseActivityTypeFromString(s string) (ActivityType, error) {
	t := ActivityType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid activity type %q", ErrValidation, s)
	}
	return t, nil
}

// ActivityEntry is an append-only audit record. Sequence is strictly increasing
// per batch and assigned by the store at insert; entries are never updated or
// deleted afterwards.
type ActivityEntry struct {
	ID           string        `gorm:"type:uuid;primaryKey"`
	BatchID      string        `gorm:"type:uuid;not null"`
	ItemID       *string       `gorm:"type:uuid"`
	Sequence     int64         `gorm:"not null"`
	ActivityType ActivityType  `gorm:"type:varchar(10);not null"`
	Phase        ActivityPhase `gorm:"type:varchar(15);not null"`
	Message      string        `gorm:"type:text;not null"`
	Details      *string       `gorm:"type:text"`
	Progress     *int
	CreatedAt    time.Time
}

func (e *ActivityEntry) Validate() error {
	if e.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if e.Message == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !e.ActivityType.IsValid() {
		return fmt.Errorf("%w: invalid activity type %q", ErrValidation, e.ActivityType)
	}
	if !e.Phase.IsValid() {
		return fmt.Errorf("%w: invalid activity phase %q", ErrValidation, e.Phase)
	}
	if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 100) {
		return fmt.Errorf("%w: progress %d out of range", ErrValidation, *e.Progress)
	}
	return nil
}
