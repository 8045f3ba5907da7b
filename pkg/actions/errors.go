package actions

import "fmt"

// NotPendingError is returned when a decision or execution result is
// applied to an action that is no longer in the expected status, typically
// because a concurrent caller won the compare-and-swap.
type NotPendingError struct {
	ID       string
	Status   Status // status found
	Expected Status // status the transition required
}

// Error returns the error message.
func (e *NotPendingError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = StatusPending
	}
	return fmt.Sprintf("action %s is %s, not %s", e.ID, e.Status, expected)
}
