package triage

import (
	"errors"
	"fmt"
	"strings"
)

// GenerationError reports a failed or timed out text generation call in a
// stage.
type GenerationError struct {
	Stage Step
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// errStagePanic wraps a value recovered from a panicking stage.
var errStagePanic = errors.New("stage panicked")

// errorText flattens joined errors into a single line.
func errorText(err error) string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		parts := make([]string, 0, len(j.Unwrap()))
		for _, e := range j.Unwrap() {
			parts = append(parts, errorText(e))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
