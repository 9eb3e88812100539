package events

import (
	"testing"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

func TestBatchFinishedEventValidate(t *testing.T) {
	t.Parallel()

	event := BatchFinishedEvent{
		BatchID:       "b-1",
		State:         domain.BatchStatePartial,
		TotalApps:     3,
		CompletedApps: 2,
		FailedApps:    1,
		FinishedAt:    time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	event.State = domain.BatchStateInProgress
	if err := event.Validate(); err == nil {
		t.Fatal("non-terminal state should be rejected")
	}

	event.State = domain.BatchStateCompleted
	event.BatchID = " "
	if err := event.Validate(); err == nil {
		t.Fatal("empty batch id should be rejected")
	}
}
