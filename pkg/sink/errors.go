package sink

import (
	"errors"
	"fmt"
)

// ErrUnreachable is returned by New when the startup ping fails and
// Options.FailOnUnreachableAtStartup is set.
var ErrUnreachable = errors.New("unable to connect to opensearch cluster")

// MappingError reports the event that made a batch unmappable. Mapping is
// all or nothing, so the whole batch is dropped.
type MappingError struct {
	Position int
	Err      error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("failed to map event %d: %v", e.Position, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
