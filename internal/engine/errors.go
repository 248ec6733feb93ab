package engine

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for per-operation outcomes. Anything carrying one of
// these is downgraded to a REJECTED conflict by the push orchestrator instead
// of aborting the batch.
var (
	// ErrInvalidPayload marks a structurally malformed entity payload.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrForbidden marks an authorization denial. It must be returned before
	// any storage mutation for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnsupported marks an action the target entity does not support
	// through this protocol (e.g. appointment delete).
	ErrUnsupported = errors.New("unsupported operation")

	// ErrNotFound marks a missing referenced record on an update-only path.
	ErrNotFound = errors.New("record not found")
)

// VersionConflictError is the expected, recoverable outcome of optimistic
// concurrency control: the client's base version is stale. It carries the
// authoritative server state for client-side reconciliation, and the resolved
// record id for operations the handler routed by a natural key rather than
// the client-supplied entity_id.
type VersionConflictError struct {
	EntityID      string
	ServerVersion int64
	ServerData    interface{}
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: server version is %d", e.ServerVersion)
}

// AsVersionConflict unwraps a VersionConflictError from err, if present.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}
