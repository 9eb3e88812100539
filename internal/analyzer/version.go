package analyzer

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

// ClassifyUpdate compares two dotted version strings and reports the update
// level of the change. Identical versions (after zero-padding missing
// components) report hasUpdate=false. Strings semver cannot parse fall back to
// a lenient component-wise comparison with missing components treated as 0.
func ClassifyUpdate(from, to string) (domain.UpdateLevel, bool) {
	fromVersion, fromErr := semver.NewVersion(strings.TrimSpace(from))
	toVersion, toErr := semver.NewVersion(strings.TrimSpace(to))
	if fromErr == nil && toErr == nil {
		switch {
		case toVersion.Equal(fromVersion):
			return "", false
		case toVersion.Major() != fromVersion.Major():
			return domain.UpdateLevelMajor, true
		case toVersion.Minor() != fromVersion.Minor():
			return domain.UpdateLevelMinor, true
		default:
			return domain.UpdateLevelPatch, true
		}
	}

	return classifyDotted(from, to)
}

func classifyDotted(from, to string) (domain.UpdateLevel, bool) {
	fromParts := versionComponents(from)
	toParts := versionComponents(to)

	length := max(len(fromParts), len(toParts))
	for i := 0; i < length; i++ {
		if componentAt(fromParts, i) == componentAt(toParts, i) {
			continue
		}
		switch i {
		case 0:
			return domain.UpdateLevelMajor, true
		case 1:
			return domain.UpdateLevelMinor, true
		default:
			return domain.UpdateLevelPatch, true
		}
	}

	return "", false
}

func versionComponents(version string) []int {
	trimmed := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ".")
	components := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			n = 0
		}
		components = append(components, n)
	}
	return components
}

func componentAt(components []int, i int) int {
	if i < len(components) {
		return components[i]
	}
	return 0
}
