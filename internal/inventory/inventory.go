package inventory

import "context"

// PackageInfo describes one installable package as reported by the inventory source.
type PackageInfo struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	CurrentVersion    string   `json:"currentVersion"`
	AvailableVersion  string   `json:"availableVersion"`
	Dependencies      []string `json:"dependencies"`
	HasCustomizations bool     `json:"hasCustomizations"`
}

// Source is the package inventory port. Describe feeds dependency analysis;
// CurrentVersion feeds the reconciler's ground-truth sync.
type Source interface {
	Describe(ctx context.Context, packageIDs []string) ([]PackageInfo, error)
	CurrentVersion(ctx context.Context, packageID string) (string, error)
}
