package inventory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultInventoryTimeout = 10 * time.Second

// HTTPSource reads package metadata from the inventory service's REST API.
type HTTPSource struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPSource(baseURL string) (*HTTPSource, error) {
	client := resty.New()
	client.SetTimeout(defaultInventoryTimeout)
	client.SetRetryCount(0)

	return NewHTTPSourceWithClient(baseURL, client)
}

func NewHTTPSourceWithClient(baseURL string, client *resty.Client) (*HTTPSource, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("inventory base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid inventory base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultInventoryTimeout)
	}

	return &HTTPSource{client: client, baseURL: trimmed}, nil
}

func (s *HTTPSource) Describe(ctx context.Context, packageIDs []string) ([]PackageInfo, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("inventory source is not initialized")
	}
	if len(packageIDs) == 0 {
		return nil, nil
	}

	var infos []PackageInfo
	response, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(packageIDs, ",")).
		SetResult(&infos).
		Get(s.baseURL + "/v1/packages")
	if err != nil {
		return nil, fmt.Errorf("inventory describe request failed: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("inventory describe returned status %d", response.StatusCode())
	}

	return infos, nil
}

func (s *HTTPSource) CurrentVersion(ctx context.Context, packageID string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("inventory source is not initialized")
	}
	trimmedID := strings.TrimSpace(packageID)
	if trimmedID == "" {
		return "", fmt.Errorf("package id is required")
	}

	var payload struct {
		Version string `json:"version"`
	}
	response, err := s.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(fmt.Sprintf("%s/v1/packages/%s/version", s.baseURL, url.PathEscape(trimmedID)))
	if err != nil {
		return "", fmt.Errorf("inventory version request failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("inventory version returned status %d", response.StatusCode())
	}

	return strings.TrimSpace(payload.Version), nil
}
