package middleware

import (
	"fmt"
	"regexp"
	"strings"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateRunID validates run ID format
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	// Allow alphanumeric, dash, underscore (max 64 chars)
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateStatusFilter accepts an empty filter or one finding status, case-insensitively.
func ValidateStatusFilter(raw string) (domain.Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	s := domain.Status(strings.ToUpper(raw))
	switch s {
	case domain.StatusCompliant, domain.StatusWarning, domain.StatusCritical, domain.StatusNotAssessed:
		return s, nil
	}
	return "", fmt.Errorf("invalid status filter: %s (allowed: COMPLIANT, WARNING, CRITICAL, NOT_ASSESSED)", raw)
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 50 // default
	}
	if limit > 500 {
		return 500 // max limit
	}
	return limit
}
