package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/rollout-engine/internal/activity"
	"github.com/kursadbilgin/rollout-engine/internal/analyzer"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/installer"
	"github.com/kursadbilgin/rollout-engine/internal/inventory"
	"github.com/kursadbilgin/rollout-engine/internal/lock"
	"github.com/kursadbilgin/rollout-engine/internal/observability"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	maxBatchSize        = 500
	defaultRequestedBy  = "system"
	recentActivityLimit = 20
)

// ActivityRecorder is the audit trail port consumed by the orchestrator and reconciler.
type ActivityRecorder interface {
	Record(ctx context.Context, batchID string, draft activity.Entry) (*domain.ActivityEntry, error)
	MustRecord(ctx context.Context, batchID string, draft activity.Entry)
	Feed(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error)
}

// PackageAnalyzer is the pre-flight dependency analysis port.
type PackageAnalyzer interface {
	Analyze(ctx context.Context, candidateIDs []string) (*analyzer.Analysis, error)
}

// ReconcilerLauncher starts the background progress reconciler for an executed batch.
type ReconcilerLauncher interface {
	Launch(batchID, handleRef string)
}

type CreateBatchInput struct {
	PackageIDs     []string
	RequestedBy    string
	ScheduledStart *time.Time
	Notes          *string
}

type CreateBatchResult struct {
	Request   *domain.BatchRequest
	Items     []domain.BatchItem
	Warnings  []analyzer.Warning
	Conflicts []analyzer.Conflict
}

type BatchStatus struct {
	Request        *domain.BatchRequest
	Items          []domain.BatchItem
	RecentActivity []domain.ActivityEntry
}

// Orchestrator owns the batch lifecycle: creation, submission to the external
// installer, and cancellation. Progress tracking after submission belongs to
// the Reconciler.
type Orchestrator struct {
	batches   repository.BatchRepository
	items     repository.ItemRepository
	recorder  ActivityRecorder
	analyzer  PackageAnalyzer
	installer installer.Service
	source    inventory.Source
	pollers   lock.PollerLock
	launcher  ReconcilerLauncher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	recorder ActivityRecorder,
	packageAnalyzer PackageAnalyzer,
	installerService installer.Service,
	source inventory.Source,
	pollers lock.PollerLock,
	launcher ReconcilerLauncher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
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
	if pollers == nil {
		return nil, fmt.Errorf("poller lock is required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("reconciler launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		batches:   batches,
		items:     items,
		recorder:  recorder,
		analyzer:  packageAnalyzer,
		installer: installerService,
		source:    source,
		pollers:   pollers,
		launcher:  launcher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// CreateBatch persists a batch request and one item per installable candidate.
// It does not submit anything to the installer; that is ExecuteBatchInstall's job.
func (o *Orchestrator) CreateBatch(ctx context.Context, input CreateBatchInput) (*CreateBatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	candidates := normalizePackageIDs(input.PackageIDs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: candidate set is empty", domain.ErrValidation)
	}
	if len(candidates) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	ordered, warnings, conflicts, err := o.planInstallOrder(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: no installable updates among candidates", domain.ErrValidation)
	}

	requestedBy := strings.TrimSpace(input.RequestedBy)
	if requestedBy == "" {
		requestedBy = defaultRequestedBy
	}

	state := domain.BatchStateDraft
	if input.ScheduledStart != nil && input.ScheduledStart.After(o.now()) {
		state = domain.BatchStateScheduled
	}

	batch := &domain.BatchRequest{
		ID:             uuid.NewString(),
		RequestedBy:    requestedBy,
		State:          state,
		TotalApps:      len(ordered),
		ScheduledStart: input.ScheduledStart,
		Notes:          input.Notes,
	}

	items := make([]*domain.BatchItem, 0, len(ordered))
	manifestItems := make([]installer.ManifestItem, 0, len(ordered))
	for _, pkg := range ordered {
		item := &domain.BatchItem{
			ID:           uuid.NewString(),
			BatchID:      batch.ID,
			PackageID:    pkg.PackageID,
			PackageName:  pkg.PackageName,
			FromVersion:  pkg.FromVersion,
			ToVersion:    pkg.ToVersion,
			UpdateLevel:  pkg.UpdateLevel,
			State:        domain.ItemStateQueued,
			InstallOrder: pkg.InstallOrder,
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
		manifestItems = append(manifestItems, installer.ManifestItem{
			PackageID:    pkg.PackageID,
			PackageName:  pkg.PackageName,
			FromVersion:  pkg.FromVersion,
			ToVersion:    pkg.ToVersion,
			InstallOrder: pkg.InstallOrder,
		})
	}

	manifest, err := json.Marshal(installer.Manifest{BatchID: batch.ID, Items: manifestItems})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize install manifest: %w", err)
	}
	batch.Manifest = string(manifest)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist batch request: %w", err)
	}
	if err := o.items.CreateBatch(ctx, items); err != nil {
		return nil, fmt.Errorf("failed to persist batch items: %w", err)
	}

	o.recorder.MustRecord(ctx, batch.ID, activity.Entry{
		Type:    domain.ActivityTypeStart,
		Phase:   domain.PhasePreparation,
		Message: fmt.Sprintf("batch created with %d packages", len(items)),
	})
	o.metrics.IncBatchCreated()

	created := make([]domain.BatchItem, 0, len(items))
	for _, item := range items {
		created = append(created, *item)
	}

	return &CreateBatchResult{
		Request:   batch,
		Items:     created,
		Warnings:  warnings,
		Conflicts: conflicts,
	}, nil
}

// planInstallOrder prefers the dependency analyzer's ordering; if analysis is
// unavailable the input order is kept with the fixed step increment.
func (o *Orchestrator) planInstallOrder(ctx context.Context, candidates []string) ([]analyzer.OrderedPackage, []analyzer.Warning, []analyzer.Conflict, error) {
	if o.analyzer != nil {
		analysis, err := o.analyzer.Analyze(ctx, candidates)
		if err == nil {
			return analysis.Order, analysis.Warnings, analysis.Conflicts, nil
		}
		if isValidationError(err) {
			return nil, nil, nil, err
		}
		o.logger.Warn("dependency analysis unavailable, falling back to input order", zap.Error(err))
	}

	if o.source == nil {
		return nil, nil, nil, fmt.Errorf("cannot plan install order: no analyzer and no inventory source")
	}

	infos, err := o.source.Describe(ctx, candidates)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to describe candidate packages: %w", err)
	}

	byID := make(map[string]inventory.PackageInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}

	ordered := make([]analyzer.OrderedPackage, 0, len(candidates))
	for _, id := range candidates {
		info, known := byID[id]
		if !known {
			continue
		}
		level, hasUpdate := analyzer.ClassifyUpdate(info.CurrentVersion, info.AvailableVersion)
		if !hasUpdate {
			continue
		}
		ordered = append(ordered, analyzer.OrderedPackage{
			PackageID:    id,
			PackageName:  info.Name,
			FromVersion:  info.CurrentVersion,
			ToVersion:    info.AvailableVersion,
			UpdateLevel:  level,
			InstallOrder: (len(ordered) + 1) * analyzer.InstallOrderStep,
		})
	}

	return ordered, nil, nil, nil
}

// ExecuteBatchInstall submits the manifest and hands progress tracking to the
// reconciler. The caller gets the handle reference back immediately and does
// not block on installation.
func (o *Orchestrator) ExecuteBatchInstall(ctx context.Context, batchID string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	trimmedID := strings.TrimSpace(batchID)
	if trimmedID == "" {
		return "", fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := o.batches.GetByID(ctx, trimmedID)
	if err != nil {
		return "", err
	}
	if batch.State == domain.BatchStateInProgress {
		return "", fmt.Errorf("%w: batch %s is already executing", domain.ErrConflict, batch.ID)
	}
	if !batch.State.CanTransitionTo(domain.BatchStateInProgress) {
		return "", fmt.Errorf("%w: batch %s in state %s cannot be executed", domain.ErrConflict, batch.ID, batch.State)
	}

	acquired, err := o.pollers.Acquire(ctx, batch.ID)
	if err != nil {
		return "", fmt.Errorf("failed to acquire poller lock: %w", err)
	}
	if !acquired {
		return "", fmt.Errorf("%w: a reconciler is already active for batch %s", domain.ErrConflict, batch.ID)
	}

	started := o.now().UTC()
	batch.State = domain.BatchStateInProgress
	batch.ActualStart = &started
	if err := o.batches.Save(ctx, batch); err != nil {
		o.releasePollerLock(ctx, batch.ID)
		return "", fmt.Errorf("failed to mark batch in progress: %w", err)
	}

	if _, err := o.items.StartQueued(ctx, batch.ID, started); err != nil {
		o.releasePollerLock(ctx, batch.ID)
		return "", fmt.Errorf("failed to start batch items: %w", err)
	}

	var manifest installer.Manifest
	if err := json.Unmarshal([]byte(batch.Manifest), &manifest); err != nil {
		o.releasePollerLock(ctx, batch.ID)
		return "", fmt.Errorf("failed to decode install manifest: %w", err)
	}

	handleRef, err := o.installer.Submit(ctx, manifest)
	if err != nil {
		o.metrics.IncInstallerSubmission("rejected")
		o.failSubmission(ctx, batch, err)
		o.releasePollerLock(ctx, batch.ID)
		return "", err
	}
	o.metrics.IncInstallerSubmission("accepted")

	batch.HandleRef = &handleRef
	if err := o.batches.Save(ctx, batch); err != nil {
		o.logger.Error("failed to persist handle reference",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}

	o.recorder.MustRecord(ctx, batch.ID, activity.Entry{
		Type:    domain.ActivityTypeStart,
		Phase:   domain.PhaseInstallation,
		Message: fmt.Sprintf("installation submitted, tracking handle %s", handleRef),
	})

	o.launcher.Launch(batch.ID, handleRef)

	return handleRef, nil
}

func (o *Orchestrator) failSubmission(ctx context.Context, batch *domain.BatchRequest, cause error) {
	summary := cause.Error()
	ended := o.now().UTC()

	// Nothing was submitted, so the items that just moved to installing
	// go back out of play as skipped.
	skipped, err := o.items.SkipPending(ctx, batch.ID, ended)
	if err != nil {
		o.logger.Error("failed to skip items after submission error",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}

	batch.State = domain.BatchStateFailed
	batch.ErrorSummary = &summary
	batch.SkippedApps += int(skipped)
	batch.ActualEnd = &ended
	if batch.ActualStart != nil {
		batch.DurationSeconds = int(ended.Sub(*batch.ActualStart).Seconds())
	}
	if err := o.batches.Save(ctx, batch); err != nil {
		o.logger.Error("failed to mark batch failed after submission error",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}

	o.recorder.MustRecord(ctx, batch.ID, activity.Entry{
		Type:    domain.ActivityTypeError,
		Phase:   domain.PhaseInstallation,
		Message: fmt.Sprintf("installer rejected the manifest: %s", summary),
	})
	o.metrics.IncBatchFinalized(batch.State.String())
}

// CancelBatchInstall marks local bookkeeping cancelled. It is cooperative: the
// external installer keeps running and an active reconciler observes the state
// on its next pass. Cancelling an already-terminal batch is a conflict.
func (o *Orchestrator) CancelBatchInstall(ctx context.Context, batchID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	trimmedID := strings.TrimSpace(batchID)
	if trimmedID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := o.batches.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	if !batch.State.CanTransitionTo(domain.BatchStateCancelled) {
		return fmt.Errorf("%w: batch %s in state %s cannot be cancelled", domain.ErrConflict, batch.ID, batch.State)
	}

	ended := o.now().UTC()
	skipped, err := o.items.SkipPending(ctx, batch.ID, ended)
	if err != nil {
		return fmt.Errorf("failed to skip pending items: %w", err)
	}

	batch.State = domain.BatchStateCancelled
	batch.SkippedApps += int(skipped)
	batch.ActualEnd = &ended
	if batch.ActualStart != nil {
		batch.DurationSeconds = int(ended.Sub(*batch.ActualStart).Seconds())
	}
	if err := o.batches.Save(ctx, batch); err != nil {
		return fmt.Errorf("failed to mark batch cancelled: %w", err)
	}

	o.recorder.MustRecord(ctx, batch.ID, activity.Entry{
		Type:    domain.ActivityTypeWarning,
		Phase:   domain.PhaseCleanup,
		Message: fmt.Sprintf("batch cancelled by request, %d pending items skipped", skipped),
	})
	o.metrics.IncBatchFinalized(batch.State.String())

	return nil
}

func (o *Orchestrator) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := o.batches.GetByID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, err
	}

	items, err := o.items.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	recent, err := o.recorder.Feed(ctx, batch.ID, nil, recentActivityLimit)
	if err != nil {
		return nil, err
	}

	return &BatchStatus{
		Request:        batch,
		Items:          items,
		RecentActivity: recent,
	}, nil
}

func (o *Orchestrator) GetActivityFeed(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return o.recorder.Feed(ctx, strings.TrimSpace(batchID), since, limit)
}

func (o *Orchestrator) ListHistory(ctx context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error) {
	return o.batches.List(ctx, params)
}

func (o *Orchestrator) AnalyzeDependencies(ctx context.Context, candidateIDs []string) (*analyzer.Analysis, error) {
	if o.analyzer == nil {
		return nil, fmt.Errorf("dependency analyzer is not configured")
	}
	return o.analyzer.Analyze(ctx, candidateIDs)
}

func (o *Orchestrator) releasePollerLock(ctx context.Context, batchID string) {
	if err := o.pollers.Release(ctx, batchID); err != nil {
		o.logger.Warn("failed to release poller lock",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
	}
}

func normalizePackageIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrValidation)
}
