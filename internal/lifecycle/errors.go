package lifecycle

import (
	"errors"
	"fmt"

	"github.com/plexsphere/plexsvc/internal/scope"
)

// ErrOwnedByOtherUser matches every *OwnershipError.
var ErrOwnedByOtherUser = errors.New("lifecycle: service owned by another user")

// OwnershipError reports an action refused because the service runs under
// a different identity than the invoker.
type OwnershipError struct {
	Service string
	Action  Action
	Owner   scope.Identity
	Invoker scope.Identity
}

// Error returns the formatted refusal.
func (e *OwnershipError) Error() string {
	return fmt.Sprintf("lifecycle: %s: cannot %s, service is started as %s (invoked as %s)",
		e.Service, e.Action, e.Owner, e.Invoker)
}

// Is supports errors.Is(err, ErrOwnedByOtherUser).
func (e *OwnershipError) Is(target error) bool {
	return target == ErrOwnedByOtherUser
}
