package installer

import (
	"context"
	"errors"
	"strings"
)

// HandleState is the point-in-time state of an external install job. The
// installer owns these values; unknown strings normalize to running.
type HandleState string

const (
	HandleStarting  HandleState = "starting"
	HandleRunning   HandleState = "running"
	HandleComplete  HandleState = "complete"
	HandleError     HandleState = "error"
	HandleCancelled HandleState = "cancelled"
)

func (s HandleState) String() string { return string(s) }

// IsTerminal reports whether the external job has finished.
func (s HandleState) IsTerminal() bool {
	switch s {
	case HandleComplete, HandleError, HandleCancelled:
		return true
	}
	return false
}

func ParseHandleState(s string) HandleState {
	switch HandleState(strings.ToLower(strings.TrimSpace(s))) {
	case HandleStarting:
		return HandleStarting
	case HandleComplete:
		return HandleComplete
	case HandleError:
		return HandleError
	case HandleCancelled:
		return HandleCancelled
	default:
		return HandleRunning
	}
}

// HandleStatus is one read of an install job's progress handle. PercentComplete
// is not guaranteed monotonic.
type HandleStatus struct {
	State           HandleState
	Message         string
	PercentComplete int
	ErrorMessage    string
	OutputSummary   string
}

// ManifestItem is one package in the submission payload, in install order.
type ManifestItem struct {
	PackageID    string `json:"packageId"`
	PackageName  string `json:"packageName,omitempty"`
	FromVersion  string `json:"fromVersion,omitempty"`
	ToVersion    string `json:"toVersion"`
	InstallOrder int    `json:"installOrder"`
}

// Manifest is the ordered install request handed to the external installer.
// Field-level format beyond this list is owned by the installer.
type Manifest struct {
	BatchID string         `json:"batchId"`
	Items   []ManifestItem `json:"items"`
}

// ErrHandleNotFound marks a handle reference the installer cannot resolve yet.
var ErrHandleNotFound = errors.New("installer: progress handle not found")

// Service is the external installer port.
type Service interface {
	Submit(ctx context.Context, manifest Manifest) (string, error)
	ReadHandle(ctx context.Context, ref string) (*HandleStatus, error)
}
