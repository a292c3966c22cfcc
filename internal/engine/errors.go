package engine

import "fmt"

// ValidationError rejects malformed input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError marks an edge the state machine does not define,
// including any transition out of a terminal state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// TaskNotOpenError rejects applications against tasks not accepting them.
type TaskNotOpenError struct {
	TaskID string
	Status string
}

func (e TaskNotOpenError) Error() string {
	return fmt.Sprintf("task %s is %s, not open for applications", e.TaskID, e.Status)
}

// DuplicateApplicationError rejects a second active application by the same
// freelancer on the same task.
type DuplicateApplicationError struct {
	TaskID       string
	FreelancerID string
}

func (e DuplicateApplicationError) Error() string {
	return fmt.Sprintf("freelancer %s already has an active application for task %s", e.FreelancerID, e.TaskID)
}

/// ConsistencyError is fatal: a multi-record invariant was found violated.
// It is never retried automatically; the operation aborts and the condition
// is logged for escalation.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation in %s: %s", e.Op, e.Detail)
}
