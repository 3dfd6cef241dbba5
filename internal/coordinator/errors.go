package coordinator

import (
	"errors"
	"fmt"
)

// Errors returned to callers. They never stop the coordinator; match them
// with errors.Is since every return wraps them with the node id.
var (
	ErrConflict       = errors.New("node already started")
	ErrNotFound       = errors.New("node not found")
	ErrUnknownField   = errors.New("unknown field")
	ErrNotGlobalState = errors.New("not a global state field")
	ErrNotResolved    = errors.New("node identity not resolved")
	ErrSpawn          = errors.New("spawn failed")
	ErrTimeout        = errors.New("node did not join in time")
	// ErrStopFailed means the stop was attempted and the node is no longer
	// tracked, but the worker may still be running.
	ErrStopFailed         = errors.New("stop failed")
	ErrInvalidNodeID      = errors.New("invalid node id")
	ErrInvalidOption      = errors.New("invalid option")
	ErrCoordinatorStopped = errors.New("coordinator stopped")

	// ErrUnexpectedNodeFailure matches any *UnexpectedNodeFailureError.
	ErrUnexpectedNodeFailure = errors.New("unexpected node failure")
)

// UnexpectedNodeFailureError is the poison result of Coordinator.Run: a node
// with the permanent death policy terminated on its own. The embedding
// application decides what that means (usually exiting the process).
type UnexpectedNodeFailureError struct {
	NodeID   string
	Identity string
	Reason   Reason
}

func (e *UnexpectedNodeFailureError) Error() string {
	return fmt.Sprintf("unexpected node failure: node %q (%s) terminated: %s", e.NodeID, e.Identity, e.Reason)
}

func (e *UnexpectedNodeFailureError) Is(target error) bool {
	return target == ErrUnexpectedNodeFailure
}
