package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

type fakeActivityRepo struct {
	appendFn func(ctx context.Context, e *domain.ActivityEntry) error
	listFn   func(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error)
}

func (f *fakeActivityRepo) Append(ctx context.Context, e *domain.ActivityEntry) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, e)
	}
	return nil
}

func (f *fakeActivityRepo) ListByBatch(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
	if f.listFn != nil {
		return f.listFn(ctx, batchID, since, limit)
	}
	return nil, nil
}

func TestRecorderAssignsIdentityAndTimestamp(t *testing.T) {
	t.Parallel()

	var appended *domain.ActivityEntry
	repo := &fakeActivityRepo{
		appendFn: func(ctx context.Context, e *domain.ActivityEntry) error {
			e.Sequence = 7
			appended = e
			return nil
		},
	}

	recorder, err := NewRecorder(repo, nil)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	entry, err := recorder.Record(context.Background(), "b-1", Entry{
		Type:    domain.ActivityTypeInfo,
		Phase:   domain.PhasePreparation,
		Message: "batch created",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if appended == nil {
		t.Fatal("expected Append to be called")
	}
	if entry.ID == "" {
		t.Fatal("entry id should be generated")
	}
	if entry.BatchID != "b-1" {
		t.Fatalf("batch id = %s, want b-1", entry.BatchID)
	}
	if entry.Sequence != 7 {
		t.Fatalf("sequence = %d, want 7 (store-assigned)", entry.Sequence)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatal("created at should be stamped")
	}
}

func TestRecorderRejectsInvalidEntry(t *testing.T) {
	t.Parallel()

	recorder, err := NewRecorder(&fakeActivityRepo{}, nil)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	_, err = recorder.Record(context.Background(), "b-1", Entry{
		Type:  domain.ActivityTypeInfo,
		Phase: domain.PhasePreparation,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Record() error = %v, want ErrValidation", err)
	}
}

func TestMustRecordSwallowsAppendFailure(t *testing.T) {
	t.Parallel()

	repo := &fakeActivityRepo{
		appendFn: func(ctx context.Context, e *domain.ActivityEntry) error {
			return errors.New("store down")
		},
	}

	recorder, err := NewRecorder(repo, nil)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	// Must not panic or propagate.
	recorder.MustRecord(context.Background(), "b-1", Entry{
		Type:    domain.ActivityTypeWarning,
		Phase:   domain.PhaseInstallation,
		Message: "poll failed",
	})
}
