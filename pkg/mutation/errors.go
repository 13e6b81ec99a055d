package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/boardsync/pkg/types"
)

// ErrDisconnected is wrapped by persistence clients when the remote store
// cannot be reached.
var ErrDisconnected = errors.New("persistence unavailable")

// ErrRejected is wrapped by persistence clients when the remote store
// refuses a mutation.
var ErrRejected = errors.New("mutation rejected")

// Reason says why a mutation was rolled back
type Reason string

const (
	ReasonTimeout      Reason = "timeout"
	ReasonRejected     Reason = "rejected"
	ReasonDisconnected Reason = "disconnected"
	ReasonSuperseded   Reason = "superseded"
	ReasonCancelled    Reason = "cancelled"
)

// Classify maps a persistence error to a rollback reason
func Classify(err error) Reason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrDisconnected):
		return ReasonDisconnected
	default:
		return ReasonRejected
	}
}

// MutationFailed reports a mutation that was applied optimistically and then
// rolled back.
type MutationFailed struct {
	MutationID string
	Kind       types.MutationKind
	Reason     Reason
	Cause      error
}

func (e *MutationFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s failed (%s): %v", Operation(e.Kind), e.MutationID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s %s failed (%s)", Operation(e.Kind), e.MutationID, e.Reason)
}

func (e *MutationFailed) Unwrap() error { return e.Cause }

// Operation returns the semantic kind of a mutation: move, create, update or delete
func Operation(k types.MutationKind) string {
	switch k {
	case types.MutationMove:
		return "move"
	case types.MutationCreateTask, types.MutationCreateColumn:
		return "create"
	case types.MutationUpdateTask, types.MutationRenameColumn:
		return "update"
	case types.MutationDeleteTask:
		return "delete"
	}
	return string(k)
}
