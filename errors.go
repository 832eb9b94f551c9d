package hsm

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeActionFailed  = "HSM_ACTION_FAILED"
	ErrCodeTerminated    = "HSM_TERMINATED"
	ErrCodeErrorStatus   = "HSM_ERROR_STATUS"
	ErrCodeNotStarted    = "HSM_NOT_STARTED"
	ErrCodeBusy          = "HSM_BUSY"
	ErrCodeFrozen        = "HSM_BUILDER_FROZEN"
	ErrCodeInvalidGraph  = "HSM_INVALID_GRAPH"
	ErrCodeUnknownState  = "HSM_UNKNOWN_STATE"
	ErrCodeInvalidConfig = "HSM_INVALID_CONFIG"
	ErrCodeBadSnapshot   = "HSM_INVALID_SNAPSHOT"
)

var (
	ErrActionFailed = apperrors.New("action failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeActionFailed)
	ErrTerminated = apperrors.New("state machine is terminated", apperrors.CategoryConflict).
			WithTextCode(ErrCodeTerminated)
	ErrMachineError = apperrors.New("state machine is in error status", apperrors.CategoryConflict).
			WithTextCode(ErrCodeErrorStatus)
	ErrNotStarted = apperrors.New("state machine is not started and auto start is disabled", apperrors.CategoryConflict).
			WithTextCode(ErrCodeNotStarted)
	ErrBusy = apperrors.New("state machine is processing events", apperrors.CategoryConflict).
		WithTextCode(ErrCodeBusy)
	ErrFrozen = apperrors.New("builder is frozen", apperrors.CategoryConflict).
			WithTextCode(ErrCodeFrozen)
	ErrInvalidGraph = apperrors.New("invalid state graph", apperrors.CategoryValidation).
			WithTextCode(ErrCodeInvalidGraph)
	ErrUnknownState = apperrors.New("unknown state", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownState)
	ErrInvalidSnapshot = apperrors.New("inconsistent snapshot", apperrors.CategoryValidation).
				WithTextCode(ErrCodeBadSnapshot)
)

// TransitionError is returned when an action fails or times out while a
// transition is being executed. It unwraps to a go-errors error whose Source
// is the original cause.
type TransitionError struct {
	From     string
	To       string
	Event    Event
	Data     any
	Action   string
	Position int
	Total    int
	cause    error
	err      *apperrors.Error
}

func newTransitionError(ac *ActionContext, cause error) *TransitionError {
	name := actionName(ac.Action)
	err := apperrors.Wrap(cause, apperrors.CategoryHandler, fmt.Sprintf("action %q failed", name)).
		WithTextCode(ErrCodeActionFailed).
		WithMetadata(map[string]any{
			"from":     ac.From,
			"to":       ac.To,
			"event":    string(ac.Event),
			"action":   name,
			"position": ac.Position,
			"total":    ac.Total,
		})
	return &TransitionError{
		From:     ac.From,
		To:       ac.To,
		Event:    ac.Event,
		Data:     ac.Data,
		Action:   name,
		Position: ac.Position,
		Total:    ac.Total,
		cause:    cause,
		err:      err,
	}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("hsm: transition %s -> %s on %q: action %q failed: %v", e.From, e.To, e.Event, e.Action, e.cause)
}

// Unwrap returns both the coded error and the original cause.
func (e *TransitionError) Unwrap() []error {
	return []error{e.err, e.cause}
}

// Is matches ErrActionFailed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrActionFailed
}

// IsActionFailure reports whether err carries a failed action.
func IsActionFailure(err error) bool {
	var te *TransitionError
	return stderrors.As(err, &te)
}

// ErrorCode returns the text code of the first go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func invalidGraph(problems []string) error {
	err := ErrInvalidGraph.Clone()
	err.Message = fmt.Sprintf("invalid state graph: %s", strings.Join(problems, "; "))
	err.Source = ErrInvalidGraph
	return err.WithMetadata(map[string]any{"problems": problems})
}

func unknownState(id string) error {
	err := ErrUnknownState.Clone()
	err.Message = fmt.Sprintf("unknown state %q", id)
	err.Source = ErrUnknownState
	return err.WithMetadata(map[string]any{"state": id})
}

func invalidSnapshot(format string, args ...any) error {
	err := ErrInvalidSnapshot.Clone()
	err.Message = "inconsistent snapshot: " + fmt.Sprintf(format, args...)
	err.Source = ErrInvalidSnapshot
	return err
}
