package engine

import "errors"

// Error taxonomy. Configuration errors (unsupported type, unknown step) mean
// the caller and the static registry disagree and are never retried.
// Invariant violations reject the operation without mutating state.
var (
	ErrUnsupportedWorkflowType = errors.New("unsupported workflow type")
	ErrAccessDenied            = errors.New("access denied")
	ErrStepNotFound            = errors.New("step not found")
	ErrUnknownStep             = errors.New("unknown step")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrInvalidOperation        = errors.New("invalid operation")
	ErrInvalidTemplate         = errors.New("invalid template")
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrConflict                = errors.New("concurrent modification")
)
