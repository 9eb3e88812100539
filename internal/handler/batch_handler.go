package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rollout-engine/internal/analyzer"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"github.com/kursadbilgin/rollout-engine/internal/service"
)

const (
	defaultPage      = 1
	defaultPageSize  = 50
	maxPageSize      = 100
	defaultFeedLimit = 50
)

type BatchService interface {
	CreateBatch(ctx context.Context, input service.CreateBatchInput) (*service.CreateBatchResult, error)
	ExecuteBatchInstall(ctx context.Context, batchID string) (string, error)
	CancelBatchInstall(ctx context.Context, batchID string) error
	GetBatchStatus(ctx context.Context, batchID string) (*service.BatchStatus, error)
	GetActivityFeed(ctx context.Context, batchID string, since *time.Time, limit int) ([]domain.ActivityEntry, error)
	ListHistory(ctx context.Context, params repository.ListParams) ([]domain.BatchRequest, int64, error)
	AnalyzeDependencies(ctx context.Context, candidateIDs []string) (*analyzer.Analysis, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Post("/batches/:id/execute", h.ExecuteBatch)
	v1.Post("/batches/:id/cancel", h.CancelBatch)
	v1.Get("/batches/:id/activity", h.GetActivityFeed)
	v1.Get("/batches/:id", h.GetBatchStatus)
	v1.Get("/batches", h.ListBatches)
	v1.Post("/analyze", h.AnalyzeDependencies)

	return nil
}

type createBatchRequest struct {
	PackageIDs     []string   `json:"packageIds"`
	RequestedBy    string     `json:"requestedBy"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

type analyzeRequest struct {
	PackageIDs []string `json:"packageIds"`
}

type batchResponse struct {
	ID              string     `json:"id"`
	RequestedBy     string     `json:"requestedBy"`
	State           string     `json:"state"`
	TotalApps       int        `json:"totalApps"`
	CompletedApps   int        `json:"completedApps"`
	FailedApps      int        `json:"failedApps"`
	SkippedApps     int        `json:"skippedApps"`
	OverallProgress int        `json:"overallProgress"`
	ScheduledStart  *time.Time `json:"scheduledStart,omitempty"`
	ActualStart     *time.Time `json:"actualStart,omitempty"`
	ActualEnd       *time.Time `json:"actualEnd,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	HandleRef       *string    `json:"handleRef,omitempty"`
	ErrorSummary    *string    `json:"errorSummary,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt,omitempty"`
}

type itemResponse struct {
	ID              string     `json:"id"`
	PackageID       string     `json:"packageId"`
	PackageName     string     `json:"packageName,omitempty"`
	FromVersion     string     `json:"fromVersion,omitempty"`
	ToVersion       string     `json:"toVersion"`
	UpdateLevel     string     `json:"updateLevel"`
	State           string     `json:"state"`
	InstallOrder    int        `json:"installOrder"`
	Progress        int        `json:"progress"`
	StatusMessage   *string    `json:"statusMessage,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
}

type activityEntryResponse struct {
	ID        string    `json:"id"`
	ItemID    *string   `json:"itemId,omitempty"`
	Sequence  int64     `json:"sequence"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type createBatchResponse struct {
	Batch     batchResponse       `json:"batch"`
	Items     []itemResponse      `json:"items"`
	Warnings  []analyzer.Warning  `json:"warnings,omitempty"`
	Conflicts []analyzer.Conflict `json:"conflicts,omitempty"`
}

type batchStatusResponse struct {
	Batch          batchResponse           `json:"batch"`
	Items          []itemResponse          `json:"items"`
	RecentActivity []activityEntryResponse `json:"recentActivity"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.CreateBatch(c.Context(), service.CreateBatchInput{
		PackageIDs:     req.PackageIDs,
		RequestedBy:    req.RequestedBy,
		ScheduledStart: req.ScheduledStart,
		Notes:          req.Notes,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createBatchResponse{
		Batch:     toBatchResponse(result.Request),
		Items:     toItemResponses(result.Items),
		Warnings:  result.Warnings,
		Conflicts: result.Conflicts,
	})
}

func (h *BatchHandler) ExecuteBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	handleRef, err := h.service.ExecuteBatchInstall(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"batchId":   id,
		"state":     domain.BatchStateInProgress.String(),
		"handleRef": handleRef,
	})
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.CancelBatchInstall(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId": id,
		"state":   domain.BatchStateCancelled.String(),
	})
}

func (h *BatchHandler) GetBatchStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	status, err := h.service.GetBatchStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchStatusResponse{
		Batch:          toBatchResponse(status.Request),
		Items:          toItemResponses(status.Items),
		RecentActivity: toActivityResponses(status.RecentActivity),
	})
}

func (h *BatchHandler) GetActivityFeed(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return toHTTPError(err)
	}
	limit := c.QueryInt("limit", defaultFeedLimit)
	if limit < 1 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 1", domain.ErrValidation))
	}

	entries, err := h.service.GetActivityFeed(c.Context(), id, since, limit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId": id,
		"entries": toActivityResponses(entries),
	})
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	batches, total, err := h.service.ListHistory(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *BatchHandler) AnalyzeDependencies(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	analysis, err := h.service.AnalyzeDependencies(c.Context(), req.PackageIDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(analysis)
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawState := strings.TrimSpace(c.Query("state")); rawState != "" {
		state, err := domain.ParseBatchStateFromString(rawState)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.State = &state
	}

	if requester := strings.TrimSpace(c.Query("requestedBy")); requester != "" {
		params.Requester = &requester
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toBatchResponse(b *domain.BatchRequest) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:              b.ID,
		RequestedBy:     b.RequestedBy,
		State:           b.State.String(),
		TotalApps:       b.TotalApps,
		CompletedApps:   b.CompletedApps,
		FailedApps:      b.FailedApps,
		SkippedApps:     b.SkippedApps,
		OverallProgress: b.OverallProgress,
		ScheduledStart:  b.ScheduledStart,
		ActualStart:     b.ActualStart,
		ActualEnd:       b.ActualEnd,
		DurationSeconds: b.DurationSeconds,
		HandleRef:       b.HandleRef,
		ErrorSummary:    b.ErrorSummary,
		Notes:           b.Notes,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toItemResponses(items []domain.BatchItem) []itemResponse {
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, itemResponse{
			ID:              item.ID,
			PackageID:       item.PackageID,
			PackageName:     item.PackageName,
			FromVersion:     item.FromVersion,
			ToVersion:       item.ToVersion,
			UpdateLevel:     item.UpdateLevel.String(),
			State:           item.State.String(),
			InstallOrder:    item.InstallOrder,
			Progress:        item.Progress,
			StatusMessage:   item.StatusMessage,
			ErrorMessage:    item.ErrorMessage,
			StartedAt:       item.StartedAt,
			FinishedAt:      item.FinishedAt,
			DurationSeconds: item.DurationSeconds,
		})
	}
	return responses
}

func toActivityResponses(entries []domain.ActivityEntry) []activityEntryResponse {
	responses := make([]activityEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, activityEntryResponse{
			ID:        entry.ID,
			ItemID:    entry.ItemID,
			Sequence:  entry.Sequence,
			Type:      entry.ActivityType.String(),
			Phase:     entry.Phase.String(),
			Message:   entry.Message,
			Details:   entry.Details,
			Progress:  entry.Progress,
			CreatedAt: entry.CreatedAt,
		})
	}
	return responses
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
