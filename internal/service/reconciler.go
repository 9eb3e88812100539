package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/activity"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/events"
	"github.com/kursadbilgin/rollout-engine/internal/installer"
	"github.com/kursadbilgin/rollout-engine/internal/inventory"
	"github.com/kursadbilgin/rollout-engine/internal/lock"
	"github.com/kursadbilgin/rollout-engine/internal/observability"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxRuntime       = 2 * time.Hour
	defaultWarmupInterval   = 3 * time.Second
	defaultSteadyInterval   = 10 * time.Second
	defaultHandleMaxLookups = 10
)

// finalizeCause says why a reconciliation loop is ending. The cause plus the
// per-item counts decide the batch's terminal state.
type finalizeCause int

const (
	causeHandleComplete finalizeCause = iota
	causeHandleError
	causeHandleCancelled
	causeTimeout
	causeHandleLost
	causeLocalCancel
)

// ReconcilerOptions tune the polling loop. Zero values take the defaults.
type ReconcilerOptions struct {
	MaxRuntime       time.Duration
	WarmupInterval   time.Duration
	SteadyInterval   time.Duration
	HandleMaxLookups int
}

// Reconciler follows an external install handle for one batch at a time and
// keeps local bookkeeping converged with it: activity entries on message
// changes, item progress estimated from the coarse overall percent, and a
// ground-truth inventory sync before finalization.
type Reconciler struct {
	batches   repository.BatchRepository
	items     repository.ItemRepository
	recorder  ActivityRecorder
	installer installer.Service
	source    inventory.Source
	pollers   lock.PollerLock
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger

	maxRuntime       time.Duration
	warmupInterval   time.Duration
	steadyInterval   time.Duration
	handleMaxLookups int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReconciler(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	recorder ActivityRecorder,
	installerService installer.Service,
	source inventory.Source,
	pollers lock.PollerLock,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ReconcilerOptions,
) (*Reconciler, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("activity recorder is required")
	}
	if installerService == nil {
		return nil, fmt.Errorf("installer service is required")
	}
	if source == nil {
		return nil, fmt.Errorf("inventory source is required")
	}
	if pollers == nil {
		return nil, fmt.Errorf("poller lock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRuntime <= 0 {
		opts.MaxRuntime = defaultMaxRuntime
	}
	if opts.WarmupInterval <= 0 {
		opts.WarmupInterval = defaultWarmupInterval
	}
	if opts.SteadyInterval <= 0 {
		opts.SteadyInterval = defaultSteadyInterval
	}
	if opts.HandleMaxLookups <= 0 {
		opts.HandleMaxLookups = defaultHandleMaxLookups
	}

	return &Reconciler{
		batches:          batches,
		items:            items,
		recorder:         recorder,
		installer:        installerService,
		source:           source,
		pollers:          pollers,
		publisher:        publisher,
		metrics:          metrics,
		logger:           logger,
		maxRuntime:       opts.MaxRuntime,
		warmupInterval:   opts.WarmupInterval,
		steadyInterval:   opts.SteadyInterval,
		handleMaxLookups: opts.HandleMaxLookups,
		now:              time.Now,
		sleep:            sleepContext,
	}, nil
}

// Launch runs Run in a goroutine detached from the caller's request context.
func (r *Reconciler) Launch(batchID, handleRef string) {
	go func() {
		if err := r.Run(context.Background(), batchID, handleRef); err != nil {
			r.logger.Error("reconciler exited with error",
				zap.String("batchId", batchID),
				zap.String("handleRef", handleRef),
				zap.Error(err),
			)
		}
	}()
}

// Run polls the install handle until the job reaches a terminal state, the
// batch is cancelled locally, or the runtime ceiling passes. It always
// finalizes the batch and releases the poller lock before returning, except
// when another actor finalized first.
func (r *Reconciler) Run(ctx context.Context, batchID, handleRef string) error {
	r.metrics.IncActivePollers()
	defer r.metrics.DecActivePollers()

	deadline := r.now().Add(r.maxRuntime)
	lastMessage := ""
	lastDecile := 0
	lookupFailures := 0

	for {
		batch, err := r.batches.GetByID(ctx, batchID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.releaseLock(ctx, batchID)
				return fmt.Errorf("batch %s disappeared during reconciliation: %w", batchID, err)
			}
			r.logger.Warn("failed to load batch, retrying",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
			if err := r.sleep(ctx, r.steadyInterval); err != nil {
				return err
			}
			continue
		}

		if batch.State == domain.BatchStateCancelled {
			return r.finalize(ctx, batch, causeLocalCancel, nil)
		}
		if batch.State.IsTerminal() {
			// Someone else finalized; nothing left to reconcile.
			r.releaseLock(ctx, batchID)
			return nil
		}

		if r.now().After(deadline) {
			return r.finalize(ctx, batch, causeTimeout, nil)
		}

		pollStart := r.now()
		status, err := r.installer.ReadHandle(ctx, handleRef)
		r.metrics.IncPollIteration()
		r.metrics.ObservePollDuration(r.now().Sub(pollStart))

		if err != nil {
			if errors.Is(err, installer.ErrHandleNotFound) {
				lookupFailures++
				if lookupFailures >= r.handleMaxLookups {
					return r.finalize(ctx, batch, causeHandleLost, nil)
				}
				if err := r.sleep(ctx, r.warmupInterval); err != nil {
					return err
				}
				continue
			}
			r.logger.Warn("failed to read install handle, retrying",
				zap.String("batchId", batchID),
				zap.String("handleRef", handleRef),
				zap.Error(err),
			)
			if err := r.sleep(ctx, r.steadyInterval); err != nil {
				return err
			}
			continue
		}
		lookupFailures = 0

		estimate := false
		if status.Message != "" && status.Message != lastMessage {
			lastMessage = status.Message
			progress := status.PercentComplete
			r.recorder.MustRecord(ctx, batchID, activity.Entry{
				Type:     ClassifyInstallerMessage(status.Message),
				Phase:    domain.PhaseInstallation,
				Message:  status.Message,
				Progress: &progress,
			})
			estimate = true
		}

		// Each ten-percent decile fires exactly once, forward only, so a
		// jittery installer percent cannot walk progress backwards.
		decile := status.PercentComplete / 10
		if decile > lastDecile {
			lastDecile = decile
			if status.PercentComplete > batch.OverallProgress {
				if err := r.batches.UpdateProgress(ctx, batchID, status.PercentComplete); err != nil {
					r.logger.Warn("failed to persist overall progress",
						zap.String("batchId", batchID),
						zap.Int("progress", status.PercentComplete),
						zap.Error(err),
					)
				}
			}
			estimate = true
		}
		if estimate {
			r.estimateItemProgress(ctx, batchID, status.PercentComplete, status.Message)
		}

		if status.State.IsTerminal() {
			return r.finalize(ctx, batch, causeForHandle(status.State), status)
		}

		if err := r.pollers.Refresh(ctx, batchID); err != nil {
			r.logger.Warn("failed to refresh poller lock",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
		}

		interval := r.steadyInterval
		if status.State == installer.HandleStarting {
			interval = r.warmupInterval
		}
		if err := r.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func causeForHandle(state installer.HandleState) finalizeCause {
	switch state {
	case installer.HandleError:
		return causeHandleError
	case installer.HandleCancelled:
		return causeHandleCancelled
	default:
		return causeHandleComplete
	}
}

// estimateItemProgress maps the installer's single overall percent onto the
// ordered installing items, assuming the installer works through them
// sequentially: items before the active index are complete, the active item
// gets the interpolated remainder of its slice.
func (r *Reconciler) estimateItemProgress(ctx context.Context, batchID string, percent int, message string) {
	if percent <= 0 {
		return
	}
	if percent > 100 {
		percent = 100
	}

	all, err := r.items.ListByBatch(ctx, batchID)
	if err != nil {
		r.logger.Warn("failed to list items for progress estimation",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return
	}

	installing := make([]domain.BatchItem, 0, len(all))
	for _, item := range all {
		if item.State == domain.ItemStateInstalling {
			installing = append(installing, item)
		}
	}
	total := len(installing)
	if total == 0 {
		return
	}

	activeIndex := percent * total / 100
	slice := 100.0 / float64(total)
	finished := r.now().UTC()

	for i := range installing {
		if i > activeIndex {
			break
		}
		item := installing[i]
		if i < activeIndex {
			item.State = domain.ItemStateCompleted
			item.Progress = 100
			item.FinishedAt = &finished
			if item.StartedAt != nil {
				item.DurationSeconds = int(finished.Sub(*item.StartedAt).Seconds())
			}
		} else {
			within := int(math.Round((float64(percent) - float64(i)*slice) / slice * 100.0))
			if within < 0 {
				within = 0
			}
			if within > 100 {
				within = 100
			}
			if within < item.Progress {
				within = item.Progress
			}
			item.Progress = within
			if message != "" {
				msg := message
				item.StatusMessage = &msg
			}
		}
		if err := r.items.Save(ctx, &item); err != nil {
			r.logger.Warn("failed to persist estimated item progress",
				zap.String("batchId", batchID),
				zap.String("itemId", item.ID),
				zap.Error(err),
			)
		}
	}
}

// syncWithInventory replaces estimates with ground truth: an item whose
// installed version already matches the target is completed no matter what
// the estimate said, and an installing item with the wrong version failed.
func (r *Reconciler) syncWithInventory(ctx context.Context, batchID string) {
	if r.source == nil {
		return
	}

	all, err := r.items.ListByBatch(ctx, batchID)
	if err != nil {
		r.logger.Warn("failed to list items for inventory sync",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return
	}

	finished := r.now().UTC()
	for _, item := range all {
		if item.State == domain.ItemStateSkipped {
			continue
		}

		installed, err := r.source.CurrentVersion(ctx, item.PackageID)
		if err != nil {
			r.logger.Warn("inventory lookup failed during sync",
				zap.String("batchId", batchID),
				zap.String("packageId", item.PackageID),
				zap.Error(err),
			)
			// An install we cannot verify must not pass as completed, and an
			// item left installing would never reach a terminal state.
			if item.State == domain.ItemStateInstalling {
				r.failSyncedItem(ctx, batchID, item, fmt.Sprintf("could not verify installed version: %v", err), finished)
			}
			continue
		}

		switch {
		case installed == item.ToVersion:
			if item.State == domain.ItemStateCompleted && item.Progress == 100 {
				continue
			}
			item.State = domain.ItemStateCompleted
			item.Progress = 100
			item.ErrorMessage = nil
			if item.FinishedAt == nil {
				item.FinishedAt = &finished
			}
			if item.StartedAt != nil {
				item.DurationSeconds = int(item.FinishedAt.Sub(*item.StartedAt).Seconds())
			}
			if err := r.items.Save(ctx, &item); err != nil {
				r.logger.Warn("failed to persist sync result",
					zap.String("itemId", item.ID), zap.Error(err))
				continue
			}
			r.recorder.MustRecord(ctx, batchID, activity.Entry{
				ItemID:  &item.ID,
				Type:    domain.ActivityTypeSuccess,
				Phase:   domain.PhasePostInstall,
				Message: fmt.Sprintf("%s verified at version %s", item.PackageID, installed),
			})
		case item.State == domain.ItemStateInstalling:
			r.failSyncedItem(ctx, batchID, item,
				fmt.Sprintf("installed version %s does not match target %s", installed, item.ToVersion), finished)
		}
	}
}

func (r *Reconciler) failSyncedItem(ctx context.Context, batchID string, item domain.BatchItem, msg string, finished time.Time) {
	item.State = domain.ItemStateFailed
	item.ErrorMessage = &msg
	item.FinishedAt = &finished
	if item.StartedAt != nil {
		item.DurationSeconds = int(finished.Sub(*item.StartedAt).Seconds())
	}
	if err := r.items.Save(ctx, &item); err != nil {
		r.logger.Warn("failed to persist sync result",
			zap.String("itemId", item.ID), zap.Error(err))
		return
	}
	r.recorder.MustRecord(ctx, batchID, activity.Entry{
		ItemID:  &item.ID,
		Type:    domain.ActivityTypeError,
		Phase:   domain.PhasePostInstall,
		Message: fmt.Sprintf("%s: %s", item.PackageID, msg),
	})
}

// finalize reconciles items against the inventory, settles the batch into a
// terminal state with final counts, emits the closing activity entry, and
// publishes the finished event. The poller lock is released last.
func (r *Reconciler) finalize(ctx context.Context, batch *domain.BatchRequest, cause finalizeCause, status *installer.HandleStatus) error {
	defer r.releaseLock(ctx, batch.ID)

	if cause != causeLocalCancel {
		r.syncWithInventory(ctx, batch.ID)
	}

	all, err := r.items.ListByBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to list items during finalization: %w", err)
	}

	var completed, failed, skipped int
	for _, item := range all {
		switch item.State {
		case domain.ItemStateCompleted:
			completed++
		case domain.ItemStateFailed:
			failed++
		case domain.ItemStateSkipped:
			skipped++
		}
	}

	finalState, summary := r.settleOutcome(cause, status, completed, failed)

	ended := r.now().UTC()
	batch.State = finalState
	batch.CompletedApps = completed
	batch.FailedApps = failed
	batch.SkippedApps = skipped
	batch.OverallProgress = 100
	if batch.ActualEnd == nil {
		batch.ActualEnd = &ended
	}
	if batch.ActualStart != nil {
		batch.DurationSeconds = int(batch.ActualEnd.Sub(*batch.ActualStart).Seconds())
	}
	if summary != "" {
		batch.ErrorSummary = &summary
	}

	if err := r.batches.Save(ctx, batch); err != nil {
		return fmt.Errorf("failed to finalize batch %s: %w", batch.ID, err)
	}

	if cause == causeTimeout {
		r.recorder.MustRecord(ctx, batch.ID, activity.Entry{
			Type:    domain.ActivityTypeWarning,
			Phase:   domain.PhaseCleanup,
			Message: fmt.Sprintf("reconciliation abandoned after %s without a terminal installer state", r.maxRuntime),
		})
	}
	if cause == causeHandleLost {
		r.recorder.MustRecord(ctx, batch.ID, activity.Entry{
			Type:    domain.ActivityTypeError,
			Phase:   domain.PhaseCleanup,
			Message: fmt.Sprintf("install handle unresolvable after %d lookups", r.handleMaxLookups),
		})
	}

	var details *string
	if status != nil && status.OutputSummary != "" {
		out := status.OutputSummary
		details = &out
	}
	closing := 100
	r.recorder.MustRecord(ctx, batch.ID, activity.Entry{
		Type:  domain.ActivityTypeComplete,
		Phase: domain.PhaseCleanup,
		Message: fmt.Sprintf("batch %s: %d completed, %d failed, %d skipped in %ds",
			strings.ToLower(finalState.String()), completed, failed, skipped, batch.DurationSeconds),
		Details:  details,
		Progress: &closing,
	})
	r.metrics.IncBatchFinalized(finalState.String())

	if r.publisher != nil {
		event := events.BatchFinishedEvent{
			BatchID:         batch.ID,
			State:           finalState,
			TotalApps:       batch.TotalApps,
			CompletedApps:   completed,
			FailedApps:      failed,
			SkippedApps:     skipped,
			DurationSeconds: batch.DurationSeconds,
			ErrorSummary:    summary,
			FinishedAt:      *batch.ActualEnd,
		}
		if err := r.publisher.PublishBatchFinished(ctx, event); err != nil {
			r.logger.Error("failed to publish batch finished event",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("batch finalized",
		zap.String("batchId", batch.ID),
		zap.String("state", finalState.String()),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)

	return nil
}

// settleOutcome picks the terminal state. Local cancellation and timeout
// override whatever the installer reported; otherwise a mix of successes and
// failures is partial, any failure alone is failed, and a clean run completes.
func (r *Reconciler) settleOutcome(cause finalizeCause, status *installer.HandleStatus, completed, failed int) (domain.BatchState, string) {
	switch cause {
	case causeLocalCancel, causeHandleCancelled:
		return domain.BatchStateCancelled, ""
	case causeTimeout:
		return domain.BatchStateFailed, fmt.Sprintf("reconciliation timed out after %s", r.maxRuntime)
	case causeHandleLost:
		return domain.BatchStateFailed, "install handle could not be resolved"
	}

	switch {
	case failed > 0 && completed > 0:
		return domain.BatchStatePartial, r.handleErrorSummary(status)
	case failed > 0, cause == causeHandleError && completed == 0:
		summary := r.handleErrorSummary(status)
		if summary == "" {
			summary = "installation reported failures"
		}
		return domain.BatchStateFailed, summary
	default:
		// The ground-truth sync outranks the handle's verdict: a verified
		// install is a completed install even if the installer died reporting it.
		return domain.BatchStateCompleted, ""
	}
}

func (r *Reconciler) handleErrorSummary(status *installer.HandleStatus) string {
	if status == nil {
		return ""
	}
	return strings.TrimSpace(status.ErrorMessage)
}

func (r *Reconciler) releaseLock(ctx context.Context, batchID string) {
	if err := r.pollers.Release(ctx, batchID); err != nil {
		r.logger.Warn("failed to release poller lock",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
