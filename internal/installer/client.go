package installer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultInstallerTimeout = 15 * time.Second

type submitResponse struct {
	HandleRef string `json:"handleRef"`
}

type handleResponse struct {
	State           string `json:"state"`
	Message         string `json:"message"`
	PercentComplete int    `json:"percentComplete"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	OutputSummary   string `json:"outputSummary,omitempty"`
}

// HTTPClient talks to the external installer's REST API.
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultInstallerTimeout)
	client.SetRetryCount(0)

	return NewHTTPClientWithClient(baseURL, client)
}

func NewHTTPClientWithClient(baseURL string, client *resty.Client) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("installer base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid installer base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultInstallerTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{client: client, baseURL: trimmed}, nil
}

func (c *HTTPClient) Submit(ctx context.Context, manifest Manifest) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("installer client is not initialized")
	}
	if len(manifest.Items) == 0 {
		return "", &SubmissionError{Message: "manifest has no items"}
	}

	var payload submitResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(manifest).
		SetResult(&payload).
		Post(c.baseURL + "/v1/installs")
	if err != nil {
		return "", &SubmissionError{Message: "submission request failed", Cause: err}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return "", &SubmissionError{
			StatusCode: statusCode,
			Message:    strings.TrimSpace(response.String()),
		}
	}

	ref := strings.TrimSpace(payload.HandleRef)
	if ref == "" {
		return "", &SubmissionError{
			StatusCode: statusCode,
			Message:    "installer returned no handle reference",
		}
	}

	return ref, nil
}

func (c *HTTPClient) ReadHandle(ctx context.Context, ref string) (*HandleStatus, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("installer client is not initialized")
	}
	trimmedRef := strings.TrimSpace(ref)
	if trimmedRef == "" {
		return nil, fmt.Errorf("handle reference is required")
	}

	var payload handleResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(fmt.Sprintf("%s/v1/installs/%s", c.baseURL, url.PathEscape(trimmedRef)))
	if err != nil {
		return nil, fmt.Errorf("handle read request failed: %w", err)
	}

	statusCode := response.StatusCode()
	if statusCode == http.StatusNotFound {
		return nil, ErrHandleNotFound
	}
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("handle read returned status %d", statusCode)
	}

	percent := payload.PercentComplete
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return &HandleStatus{
		State:           ParseHandleState(payload.State),
		Message:         strings.TrimSpace(payload.Message),
		PercentComplete: percent,
		ErrorMessage:    strings.TrimSpace(payload.ErrorMessage),
		OutputSummary:   strings.TrimSpace(payload.OutputSummary),
	}, nil
}
