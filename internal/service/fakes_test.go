package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/rollout-engine/internal/activity"
	"github.com/kursadbilgin/rollout-engine/internal/analyzer"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/events"
	"github.com/kursadbilgin/rollout-engine/internal/installer"
	"github.com/kursadbilgin/rollout-engine/internal/inventory"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
)

type fakeBatchRepo struct {
	mu            sync.Mutex
	batches       map[string]*domain.BatchRequest
	progressCalls []int
	saveErr       error
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[string]*domain.BatchRequest)}
}

func (f *fakeBatchRepo) Create(_ context.Context, b *domain.BatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.batches[b.ID]; exists {
		return domain.ErrConflict
	}
	clone := *b
	f.batches[b.ID] = &clone
	return nil
}

func (f *fakeBatchRepo) GetByID(_ context.Context, id string) (*domain.BatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (f *fakeBatchRepo) Save(_ context.Context, b *domain.BatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.batches[b.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *b
	f.batches[b.ID] = &clone
	return nil
}

func (f *fakeBatchRepo) UpdateProgress(_ context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok || b.OverallProgress > progress {
		return domain.ErrNotFound
	}
	b.OverallProgress = progress
	f.progressCalls = append(f.progressCalls, progress)
	return nil
}

func (f *fakeBatchRepo) List(_ context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BatchRequest, 0, len(f.batches))
	for _, b := range f.batches {
		if params.State != nil && b.State != *params.State {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

type fakeItemRepo struct {
	mu      sync.Mutex
	items   map[string]*domain.BatchItem
	saves   int
	saveErr error
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[string]*domain.BatchItem)}
}

func (f *fakeItemRepo) CreateBatch(_ context.Context, items []*domain.BatchItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		clone := *item
		f.items[item.ID] = &clone
	}
	return nil
}

func (f *fakeItemRepo) GetByID(_ context.Context, id string) (*domain.BatchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (f *fakeItemRepo) ListByBatch(_ context.Context, batchID string) ([]domain.BatchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BatchItem, 0)
	for _, item := range f.items {
		if item.BatchID == batchID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallOrder < out[j].InstallOrder })
	return out, nil
}

func (f *fakeItemRepo) Save(_ context.Context, item *domain.BatchItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.items[item.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *item
	f.items[item.ID] = &clone
	return nil
}

func (f *fakeItemRepo) StartQueued(_ context.Context, batchID string, startedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var moved int64
	for _, item := range f.items {
		if item.BatchID == batchID && item.State == domain.ItemStateQueued {
			item.State = domain.ItemStateInstalling
			started := startedAt
			item.StartedAt = &started
			moved++
		}
	}
	return moved, nil
}

func (f *fakeItemRepo) SkipPending(_ context.Context, batchID string, finishedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var moved int64
	for _, item := range f.items {
		if item.BatchID == batchID &&
			(item.State == domain.ItemStateQueued || item.State == domain.ItemStateInstalling) {
			item.State = domain.ItemStateSkipped
			finished := finishedAt
			item.FinishedAt = &finished
			moved++
		}
	}
	return moved, nil
}

type recordedEntry struct {
	BatchID string
	Entry   activity.Entry
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedEntry
	feedErr error
}

func (f *fakeRecorder) Record(_ context.Context, batchID string, draft activity.Entry) (*domain.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedEntry{BatchID: batchID, Entry: draft})
	return &domain.ActivityEntry{
		ID:           fmt.Sprintf("entry-%d", len(f.entries)),
		BatchID:      batchID,
		Sequence:     int64(len(f.entries)),
		ActivityType: draft.Type,
		Phase:        draft.Phase,
		Message:      draft.Message,
	}, nil
}

func (f *fakeRecorder) MustRecord(ctx context.Context, batchID string, draft activity.Entry) {
	_, _ = f.Record(ctx, batchID, draft)
}

func (f *fakeRecorder) Feed(_ context.Context, batchID string, _ *time.Time, limit int) ([]domain.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	out := make([]domain.ActivityEntry, 0)
	for i, rec := range f.entries {
		if rec.BatchID != batchID {
			continue
		}
		out = append(out, domain.ActivityEntry{
			ID:           fmt.Sprintf("entry-%d", i+1),
			BatchID:      batchID,
			Sequence:     int64(i + 1),
			ActivityType: rec.Entry.Type,
			Phase:        rec.Entry.Phase,
			Message:      rec.Entry.Message,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRecorder) byType(t domain.ActivityType) []recordedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEntry, 0)
	for _, rec := range f.entries {
		if rec.Entry.Type == t {
			out = append(out, rec)
		}
	}
	return out
}

type fakeAnalyzer struct {
	analyzeFn func(ctx context.Context, ids []string) (*analyzer.Analysis, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, ids []string) (*analyzer.Analysis, error) {
	return f.analyzeFn(ctx, ids)
}

type fakeInstaller struct {
	mu        sync.Mutex
	submitFn  func(ctx context.Context, manifest installer.Manifest) (string, error)
	readFn    func(ctx context.Context, ref string) (*installer.HandleStatus, error)
	submitted []installer.Manifest
	reads     int
}

func (f *fakeInstaller) Submit(ctx context.Context, manifest installer.Manifest) (string, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, manifest)
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(ctx, manifest)
	}
	return "handle-1", nil
}

func (f *fakeInstaller) ReadHandle(ctx context.Context, ref string) (*installer.HandleStatus, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.readFn != nil {
		return f.readFn(ctx, ref)
	}
	return &installer.HandleStatus{State: installer.HandleRunning}, nil
}

type fakeSource struct {
	mu         sync.Mutex
	packages   map[string]inventory.PackageInfo
	versions   map[string]string
	versionErr error
}

func (f *fakeSource) Describe(_ context.Context, ids []string) ([]inventory.PackageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inventory.PackageInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := f.packages[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeSource) CurrentVersion(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionErr != nil {
		return "", f.versionErr
	}
	v, ok := f.versions[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	releases int
	refreshs int
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (f *fakeLock) Acquire(_ context.Context, batchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.held[batchID] {
		return false, nil
	}
	f.held[batchID] = true
	return true, nil
}

func (f *fakeLock) Refresh(_ context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	if !f.held[batchID] {
		return fmt.Errorf("lock not held for %s", batchID)
	}
	return nil
}

func (f *fakeLock) Release(_ context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	delete(f.held, batchID)
	return nil
}

func (f *fakeLock) isHeld(batchID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[batchID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.BatchFinishedEvent
}

func (f *fakePublisher) PublishBatchFinished(_ context.Context, event events.BatchFinishedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeLauncher struct {
	mu       sync.Mutex
	launches []string
}

func (f *fakeLauncher) Launch(batchID, handleRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, handleRef)
}
