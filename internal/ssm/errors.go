package ssm

import "fmt"

// ConfigError wraps an invalid or mutually inconsistent layer configuration
// detected at construction time.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ShapeError reports a tensor dimension mismatch at a call boundary.
// A call failing with a ShapeError leaves any attached RuntimeState unchanged.
type ShapeError struct {
	Op     string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: %s", e.Op, e.Detail)
}

// PrecisionError reports a backend-produced decay factor outside (0, 1],
// i.e. a violation of the recurrence stability invariant. It is raised
// rather than silently propagated.
type PrecisionError struct {
	Backend string
	Channel int
	State   int
	Factor  float32
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("backend %s: decay factor %g at channel %d state %d outside (0,1]",
		e.Backend, e.Factor, e.Channel, e.State)
}
