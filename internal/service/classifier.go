package service

import (
	"strings"

	"github.com/kursadbilgin/rollout-engine/internal/domain"
)

// ClassifyInstallerMessage maps a free-text installer status message onto an
// activity type. Matching is case-insensitive and first-match-wins: failure
// words trump completion words, which trump install words.
func ClassifyInstallerMessage(message string) domain.ActivityType {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "error") || strings.Contains(lowered, "fail"):
		return domain.ActivityTypeError
	case strings.Contains(lowered, "complete") || strings.Contains(lowered, "success"):
		return domain.ActivityTypeSuccess
	case strings.Contains(lowered, "install"):
		return domain.ActivityTypeInfo
	default:
		return domain.ActivityTypeProgress
	}
}
