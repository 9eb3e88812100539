package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
	"github.com/kursadbilgin/rollout-engine/internal/inventory"
	"go.uber.org/zap"
)

// InstallOrderStep is the gap between consecutive install order values,
// leaving room for manual reordering between items.
const InstallOrderStep = 10

// RiskLevel bands an advisory risk score; it is used for display and sorting,
// never to block an install.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

const (
	weightMajor         = 30
	weightMinor         = 15
	weightPatch         = 5
	weightPerDependency = 8
	weightCustomization = 20

	riskLowUpperBound    = 20
	riskMediumUpperBound = 40
	riskHighUpperBound   = 60
)

// OrderedPackage is one candidate placed in the dependency-respecting install order.
type OrderedPackage struct {
	PackageID    string             `json:"packageId"`
	PackageName  string             `json:"packageName"`
	FromVersion  string             `json:"fromVersion"`
	ToVersion    string             `json:"toVersion"`
	UpdateLevel  domain.UpdateLevel `json:"updateLevel"`
	InstallOrder int                `json:"installOrder"`
	RiskScore    int                `json:"riskScore"`
	Risk         RiskLevel          `json:"risk"`
}

// Warning flags a dependency outside the candidate set.
type Warning struct {
	PackageID         string `json:"packageId"`
	MissingDependency string `json:"missingDependency"`
	Message           string `json:"message"`
}

// Conflict records a dependency cycle among candidates.
type Conflict struct {
	PackageIDs []string `json:"packageIds"`
	Message    string   `json:"message"`
}

// Analysis is the pre-flight result for a candidate set.
type Analysis struct {
	Order     []OrderedPackage `json:"order"`
	Warnings  []Warning        `json:"warnings"`
	Conflicts []Conflict       `json:"conflicts"`
}

// Analyzer computes install ordering, cross-batch dependency warnings, and
// advisory risk scores for a candidate package set.
type Analyzer struct {
	source inventory.Source
	logger *zap.Logger
}

func NewAnalyzer(source inventory.Source, logger *zap.Logger) (*Analyzer, error) {
	if source == nil {
		return nil, fmt.Errorf("inventory source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{source: source, logger: logger}, nil
}

func (a *Analyzer) Analyze(ctx context.Context, candidateIDs []string) (*Analysis, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ids := normalizeCandidates(candidateIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: candidate set is empty", domain.ErrValidation)
	}

	infos, err := a.source.Describe(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to describe candidate packages: %w", err)
	}

	byID := make(map[string]inventory.PackageInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}

	analysis := &Analysis{}

	// Packages already at their available version are "no update" and excluded.
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		info, known := byID[id]
		if !known {
			analysis.Warnings = append(analysis.Warnings, Warning{
				PackageID: id,
				Message:   fmt.Sprintf("package %s is not present in the inventory", id),
			})
			continue
		}
		if _, hasUpdate := ClassifyUpdate(info.CurrentVersion, info.AvailableVersion); !hasUpdate {
			continue
		}
		candidates = append(candidates, id)
	}

	order, conflicts := topologicalOrder(candidates, byID)
	analysis.Conflicts = append(analysis.Conflicts, conflicts...)

	inSet := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		inSet[id] = true
	}
	for _, id := range candidates {
		for _, dep := range byID[id].Dependencies {
			if !inSet[dep] {
				analysis.Warnings = append(analysis.Warnings, Warning{
					PackageID:         id,
					MissingDependency: dep,
					Message:           fmt.Sprintf("package %s depends on %s, which is not part of this batch", id, dep),
				})
			}
		}
	}

	for i, id := range order {
		info := byID[id]
		level, _ := ClassifyUpdate(info.CurrentVersion, info.AvailableVersion)
		score := riskScore(level, len(info.Dependencies), info.HasCustomizations)
		analysis.Order = append(analysis.Order, OrderedPackage{
			PackageID:    id,
			PackageName:  info.Name,
			FromVersion:  info.CurrentVersion,
			ToVersion:    info.AvailableVersion,
			UpdateLevel:  level,
			InstallOrder: (i + 1) * InstallOrderStep,
			RiskScore:    score,
			Risk:         riskLevel(score),
		})
	}

	if len(analysis.Conflicts) > 0 {
		a.logger.Warn("dependency cycles among candidates, order is best effort",
			zap.Int("conflicts", len(analysis.Conflicts)),
		)
	}

	return analysis, nil
}

func normalizeCandidates(ids []string) []string {
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

type visitColor int

const (
	colorUnvisited visitColor = iota
	colorVisiting
	colorVisited
)

// topologicalOrder runs a three-color depth-first sort over the dependency
// edges whose targets are inside the candidate set. A node found in the
// visiting state closes a cycle: the cycle is recorded as a conflict and the
// walk continues without re-entering it, so a total order always comes back.
func topologicalOrder(candidates []string, byID map[string]inventory.PackageInfo) ([]string, []Conflict) {
	inSet := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		inSet[id] = true
	}

	colors := make(map[string]visitColor, len(candidates))
	order := make([]string, 0, len(candidates))
	var conflicts []Conflict
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		switch colors[id] {
		case colorVisited:
			return
		case colorVisiting:
			conflicts = append(conflicts, Conflict{
				PackageIDs: cyclePath(stack, id),
				Message:    fmt.Sprintf("circular dependency involving %s", id),
			})
			return
		}

		colors[id] = colorVisiting
		stack = append(stack, id)

		deps := append([]string(nil), byID[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if inSet[dep] {
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = colorVisited
		order = append(order, id)
	}

	for _, id := range candidates {
		visit(id)
	}

	return order, conflicts
}

func cyclePath(stack []string, closing string) []string {
	for i, id := range stack {
		if id == closing {
			path := append([]string(nil), stack[i:]...)
			return append(path, closing)
		}
	}
	return []string{closing}
}

func riskScore(level domain.UpdateLevel, dependencyCount int, hasCustomizations bool) int {
	score := 0
	switch level {
	case domain.UpdateLevelMajor:
		score += weightMajor
	case domain.UpdateLevelMinor:
		score += weightMinor
	case domain.UpdateLevelPatch:
		score += weightPatch
	}
	score += dependencyCount * weightPerDependency
	if hasCustomizations {
		score += weightCustomization
	}
	return score
}

func riskLevel(score int) RiskLevel {
	switch {
	case score < riskLowUpperBound:
		return RiskLow
	case score < riskMediumUpperBound:
		return RiskMedium
	case score < riskHighUpperBound:
		return RiskHigh
	default:
		return RiskCritical
	}
}
