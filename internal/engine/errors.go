package engine

import (
	"errors"
	"fmt"

	"github.com/aristath/conductor/internal/model"
)

// ErrInvalidTransition is the sentinel matched by errors.Is for any
// rejected execution state change.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrTaskBusy is returned when a task already has a running execution.
// At most one execution per task may be RUNNING at any time.
var ErrTaskBusy = errors.New("task already has a running execution")

// TransitionError reports a rejected state change on an execution.
type TransitionError struct {
	ExecutionID string
	From        model.ExecutionStatus
	Op          string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s execution %s: status is %s", e.Op, e.ExecutionID, e.From)
}

// Is lets errors.Is(err, ErrInvalidTransition) match transition errors.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
