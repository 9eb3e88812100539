package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rollout-engine/internal/analyzer"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"github.com/kursadbilgin/rollout-engine/internal/service"
	"github.com/kursadbilgin/rollout-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestBatchIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		createFn: func(ctx context.Context, input service.CreateBatchInput) (*service.CreateBatchResult, error) {
			if len(input.PackageIDs) == 0 {
				return nil, fmt.Errorf("%w: candidate set is empty", domain.ErrValidation)
			}
			return &service.CreateBatchResult{
				Request: &domain.BatchRequest{
					ID:          "batch-1",
					RequestedBy: input.RequestedBy,
					State:       domain.BatchStateDraft,
					TotalApps:   len(input.PackageIDs),
				},
				Items: []domain.BatchItem{
					{ID: "item-1", BatchID: "batch-1", PackageID: "pkg-a", ToVersion: "2.0.0", UpdateLevel: domain.UpdateLevelMajor, State: domain.ItemStateQueued, InstallOrder: 10},
				},
			}, nil
		},
	}

	app := newBatchTestApp(t, svc)

	validBody := `{"packageIds":["pkg-a"],"requestedBy":"deployer"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	batch, ok := parsed["batch"].(map[string]any)
	if !ok {
		t.Fatalf("batch missing in response, body=%s", string(body))
	}
	if batch["id"] != "batch-1" {
		t.Fatalf("id = %v, want batch-1", batch["id"])
	}
	if batch["state"] != domain.BatchStateDraft.String() {
		t.Fatalf("state = %v, want %s", batch["state"], domain.BatchStateDraft.String())
	}

	emptyBody := `{"packageIds":[]}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", emptyBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty candidate set", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", `{not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestBatchIntegration_ExecuteBatch(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		executeFn: func(ctx context.Context, batchID string) (string, error) {
			switch batchID {
			case "batch-1":
				return "handle-7", nil
			case "batch-running":
				return "", fmt.Errorf("%w: batch batch-running is already executing", domain.ErrConflict)
			default:
				return "", domain.ErrNotFound
			}
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/batch-1/execute", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["handleRef"] != "handle-7" {
		t.Fatalf("handleRef = %v, want handle-7", parsed["handleRef"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/batch-running/execute", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for double execute", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/missing/execute", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown batch", resp.StatusCode)
	}
}

func TestBatchIntegration_CancelBatch(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		cancelFn: func(ctx context.Context, batchID string) error {
			if batchID == "batch-done" {
				return fmt.Errorf("%w: batch batch-done in state COMPLETED cannot be cancelled", domain.ErrConflict)
			}
			return nil
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/batch-1/cancel", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["state"] != domain.BatchStateCancelled.String() {
		t.Fatalf("state = %v, want %s", parsed["state"], domain.BatchStateCancelled.String())
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/batch-done/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for terminal batch", resp.StatusCode)
	}
}

func TestBatchIntegration_GetBatchStatus(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		statusFn: func(ctx context.Context, batchID string) (*service.BatchStatus, error) {
			if batchID != "batch-1" {
				return nil, domain.ErrNotFound
			}
			return &service.BatchStatus{
				Request: &domain.BatchRequest{
					ID:              "batch-1",
					State:           domain.BatchStateInProgress,
					TotalApps:       2,
					OverallProgress: 40,
				},
				Items: []domain.BatchItem{
					{ID: "item-1", PackageID: "pkg-a", ToVersion: "2.0.0", UpdateLevel: domain.UpdateLevelMajor, State: domain.ItemStateCompleted, InstallOrder: 10, Progress: 100},
					{ID: "item-2", PackageID: "pkg-b", ToVersion: "1.1.0", UpdateLevel: domain.UpdateLevelMinor, State: domain.ItemStateInstalling, InstallOrder: 20, Progress: 20},
				},
				RecentActivity: []domain.ActivityEntry{
					{ID: "e-1", BatchID: "batch-1", Sequence: 1, ActivityType: domain.ActivityTypeStart, Phase: domain.PhasePreparation, Message: "batch created with 2 packages"},
				},
			}, nil
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Batch struct {
			OverallProgress int `json:"overallProgress"`
		} `json:"batch"`
		Items          []map[string]any `json:"items"`
		RecentActivity []map[string]any `json:"recentActivity"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Batch.OverallProgress != 40 {
		t.Fatalf("overallProgress = %d, want 40", parsed.Batch.OverallProgress)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(parsed.Items))
	}
	if len(parsed.RecentActivity) != 1 {
		t.Fatalf("recentActivity = %d, want 1", len(parsed.RecentActivity))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown batch", resp.StatusCode)
	}
}

func TestBatchIntegration_GetActivityFeed(t *testing.T) {
	t.Parallel()

	expectedSince, _ := time.Parse(time.RFC3339, "2026-03-01T10:00:00Z")
	svc := &stubBatchService{
		feedFn: func(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
			if since == nil || !since.Equal(expectedSince) {
				t.Fatalf("since = %v, want %v", since, expectedSince)
			}
			if limit != 5 {
				t.Fatalf("limit = %d, want 5", limit)
			}
			return []domain.ActivityEntry{
				{ID: "e-2", BatchID: batchID, Sequence: 2, ActivityType: domain.ActivityTypeProgress, Phase: domain.PhaseInstallation, Message: "installing pkg-a"},
			}, nil
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/activity?since=2026-03-01T10:00:00Z&limit=5", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/batch-1/activity?since=not-a-date", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid since", resp.StatusCode)
	}
}

func TestBatchIntegration_ListBatches(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error) {
			if params.State == nil || *params.State != domain.BatchStateCompleted {
				t.Fatalf("state filter = %v, want COMPLETED", params.State)
			}
			return []domain.BatchRequest{
				{ID: "batch-1", State: domain.BatchStateCompleted, TotalApps: 3},
			}, 1, nil
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches?state=completed&page=1&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed listBatchesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Meta.Total != 1 || len(parsed.Data) != 1 {
		t.Fatalf("meta/data mismatch: %+v", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches?state=bogus", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown state", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches?pageSize=9999", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized page", resp.StatusCode)
	}
}

func TestBatchIntegration_AnalyzeDependencies(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		analyzeFn: func(ctx context.Context, ids []string) (*analyzer.Analysis, error) {
			if len(ids) == 0 {
				return nil, fmt.Errorf("%w: candidate set is empty", domain.ErrValidation)
			}
			return &analyzer.Analysis{
				Order: []analyzer.OrderedPackage{
					{PackageID: "pkg-a", ToVersion: "2.0.0", UpdateLevel: domain.UpdateLevelMajor, InstallOrder: 10, RiskScore: 30, Risk: analyzer.RiskMedium},
				},
			}, nil
		},
	}

	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/analyze", `{"packageIds":["pkg-a"]}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed analyzer.Analysis
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Order) != 1 || parsed.Order[0].InstallOrder != 10 {
		t.Fatalf("unexpected analysis payload: %+v", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/analyze", `{"packageIds":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty candidate set", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"batchStore":"down"`) {
			t.Fatalf("body should name the failing batch store check, body=%s", string(body))
		}
	})
}

type stubBatchService struct {
	createFn  func(ctx context.Context, input service.CreateBatchInput) (*service.CreateBatchResult, error)
	executeFn func(ctx context.Context, batchID string) (string, error)
	cancelFn  func(ctx context.Context, batchID string) error
	statusFn  func(ctx context.Context, batchID string) (*service.BatchStatus, error)
	feedFn    func(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error)
	listFn    func(ctx context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error)
	analyzeFn func(ctx context.Context, candidateIDs []string) (*analyzer.Analysis, error)
}

func (s *stubBatchService) CreateBatch(ctx context.Context, input service.CreateBatchInput) (*service.CreateBatchResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) ExecuteBatchInstall(ctx context.Context, batchID string) (string, error) {
	if s.executeFn != nil {
		return s.executeFn(ctx, batchID)
	}
	return "", errors.New("not implemented")
}

func (s *stubBatchService) CancelBatchInstall(ctx context.Context, batchID string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, batchID)
	}
	return errors.New("not implemented")
}

func (s *stubBatchService) GetBatchStatus(ctx context.Context, batchID string) (*service.BatchStatus, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, batchID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) GetActivityFeed(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error) {
	if s.feedFn != nil {
		return s.feedFn(ctx, batchID, since, limit)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) ListHistory(ctx context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, errors.New("not implemented")
}

func (s *stubBatchService) AnalyzeDependencies(ctx context.Context, candidateIDs []string) (*analyzer.Analysis, error) {
	if s.analyzeFn != nil {
		return s.analyzeFn(ctx, candidateIDs)
	}
	return nil, errors.New("not implemented")
}

func newBatchTestApp(t *testing.T, svc BatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterBatchRoutes(app, svc); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
