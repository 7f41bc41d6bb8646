package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput is returned when no readings survive the window filter.
// The run fails fast rather than silently publishing zero rows.
var ErrEmptyInput = errors.New("no readings in scope")

// ConfigError reports an invalid run configuration, for example a window
// whose start is not before its end. Not retryable.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Reason
}

// ValidationError reports post-aggregation invariant violations. Output
// already published is not rolled back; the orchestrator decides retries.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Problems[0]
	}
	return fmt.Sprintf("validation failed (%d problems): %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}
