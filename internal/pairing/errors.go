package pairing

import (
	"errors"
	"fmt"
)

// Protocol-level failures returned to the immediate caller for display.
// None of them is retried automatically.
var (
	ErrNotFound        = errors.New("no user with that code")
	ErrAlreadyPaired   = errors.New("already in an active pairing")
	ErrSelfPairing     = errors.New("cannot pair with yourself")
	ErrNoActivePairing = errors.New("not in an active pairing")

	// ErrTargetUnavailable is matched via errors.Is against
	// UnavailableError values.
	ErrTargetUnavailable = errors.New("target is already paired")
)

// UnavailableError reports that the target of a pairing request is
// already paired. It carries the target's identity so the caller can
// offer a switch ("leave my current pairing and join this one") as a
// follow-up.
type UnavailableError struct {
	TargetUserID string
	TargetCode   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("user %s is already paired", e.TargetCode)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrTargetUnavailable
}
