package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrCheckInProgress is returned when a check cycle is skipped because
	// another one is still running.
	ErrCheckInProgress = errors.New("ranking check already in progress")
	// ErrNotRunning is returned by Restart when the scheduler is stopped.
	ErrNotRunning = errors.New("scheduler is not running")
)

// CycleError reports a failure that aborted a whole check cycle, such as the
// project list being unavailable or a panic outside any single project.
type CycleError struct {
	Err error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("check cycle failed: %v", e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
