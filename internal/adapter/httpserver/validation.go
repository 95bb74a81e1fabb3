package httpserver

import (
	"fmt"
	"regexp"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// identPattern bounds path identifiers (user ids, rule names) to a safe
// charset so they can be logged and embedded in cache keys verbatim.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// ValidateIdent checks a path identifier and reports a validation error
// naming the offending field.
func ValidateIdent(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s required", domain.ErrValidation, field)
	}
	if !identPattern.MatchString(value) {
		return fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, field)
	}
	return nil
}
