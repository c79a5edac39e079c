package pipeline

import (
	"errors"
	"fmt"
)

// ErrPageUnavailable is returned when the first listing page cannot be
// fetched, so the page count is unknown.
var ErrPageUnavailable = errors.New("playlist page unavailable")

// Run stages named in StageError.
const (
	StageResolve  = "resolve"
	StageListing  = "listing"
	StageSnapshot = "snapshot"
	StageDetail   = "detail"
	StagePersist  = "persist"
	StageDatabase = "database"
)

// StageError wraps a fatal error with the stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
