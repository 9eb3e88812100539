package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

// BatchFinishedQueue is consumed by the refresh/notification job.
const BatchFinishedQueue = "batch.finished"

// BatchFinishedEvent announces a batch reaching a terminal state.
type BatchFinishedEvent struct {
	BatchID         string            `json:"batchId"`
	State           domain.BatchState `json:"state"`
	TotalApps       int               `json:"totalApps"`
	CompletedApps   int               `json:"completedApps"`
	FailedApps      int               `json:"failedApps"`
	SkippedApps     int               `json:"skippedApps"`
	DurationSeconds int               `json:"durationSeconds"`
	ErrorSummary    string            `json:"errorSummary,omitempty"`
	FinishedAt      time.Time         `json:"finishedAt"`
}

func (e BatchFinishedEvent) Validate() error {
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if !e.State.IsTerminal() {
		return fmt.Errorf("state %q is not terminal", e.State)
	}
	return nil
}

// Publisher emits terminal batch events for downstream consumers.
type Publisher interface {
	PublishBatchFinished(ctx context.Context, event BatchFinishedEvent) error
	Close() error
}
