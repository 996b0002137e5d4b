package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// Sentinel kinds of configuration errors. Match with errors.Is.
var (
	ErrUnknownFragment  = errors.New("unknown extends reference")
	ErrInheritanceCycle = errors.New("inheritance cycle")
	ErrEmptyScript      = errors.New("must have script specified")
	ErrInvalidJob       = errors.New("invalid job definition")
)

// ConfigError is a fatal configuration error attached to a single job.
// Callers report it and stop before any job executes.
type ConfigError struct {
	Job      string
	Kind     error
	Fragment string                    // set for ErrUnknownFragment
	Details  []*schema.ValidationError // set for ErrInvalidJob
	Err      error                     // underlying cause, if any
}

func (e *ConfigError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrUnknownFragment):
		return fmt.Sprintf("%s is used by %s, but is unspecified", e.Fragment, e.Job)
	case errors.Is(e.Kind, ErrInheritanceCycle):
		return fmt.Sprintf("you seem to have an infinite extends loop starting from %s", e.Job)
	case errors.Is(e.Kind, ErrEmptyScript):
		return fmt.Sprintf("%s %s", e.Job, e.Kind)
	case len(e.Details) > 0:
		msgs := make([]string, len(e.Details))
		for i, d := range e.Details {
			msgs[i] = d.Error()
		}
		return fmt.Sprintf("%s: %s: %s", e.Job, e.Kind, strings.Join(msgs, "; "))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Job, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Job, e.Kind)
	}
}

// Is matches the error kind so callers can test errors.Is(err, ErrInheritanceCycle).
func (e *ConfigError) Is(target error) bool {
	return e.Kind == target
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
