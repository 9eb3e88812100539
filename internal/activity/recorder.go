package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"go.uber.org/zap"
)

// Entry is a draft activity record. The per-batch sequence is assigned by the
// store on append, so the recorder itself carries no mutable counters.
type Entry struct {
	ItemID   *string
	Type     domain.ActivityType
	Phase    domain.ActivityPhase
	Message  string
	Details  *string
	Progress *int
}

// Recorder appends audit entries to a batch's activity feed. It is stateless
// and safe to share; sequence discipline is the caller's responsibility (one
// designated writer per batch).
type Recorder struct {
	entries repository.ActivityRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewRecorder(entries repository.ActivityRepository, logger *zap.Logger) (*Recorder, error) {
	if entries == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (r *Recorder) Record(ctx context.Context, batchID string, draft Entry) (*domain.ActivityEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entry := &domain.ActivityEntry{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		ItemID:       draft.ItemID,
		ActivityType: draft.Type,
		Phase:        draft.Phase,
		Message:      draft.Message,
		Details:      draft.Details,
		Progress:     draft.Progress,
		CreatedAt:    r.now().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	if err := r.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append activity entry: %w", err)
	}

	return entry, nil
}

// MustRecord logs instead of failing: the audit trail must never abort the
// operation it documents.
func (r *Recorder) MustRecord(ctx context.Context, batchID string, draft Entry) {
	if _, err := r.Record(ctx, batchID, draft); err != nil {
		r.logger.Error("failed to record activity entry",
			zap.String("batchId", batchID),
			zap.String("message", draft.Message),
			zap.Error(err),
		)
	}
}

func (r *Recorder) Feed(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
	return r.entries.ListByBatch(ctx, batchID, since, limit)
}
