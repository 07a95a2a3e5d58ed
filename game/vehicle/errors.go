package vehicle

import "errors"

// ErrNotFound means the vehicle or shop does not exist. Callers treat it as a no-op.
var ErrNotFound = errors.New("vehicle: not found")

// ErrRejected is the parent of every validation failure. The requester has
// already been notified when one of these is returned.
var ErrRejected = errors.New("vehicle: request rejected")

var (
	ErrNoCharacter       = rejection("no active character")
	ErrNotOwner          = rejection("not the owner")
	ErrNotInVehicle      = rejection("not inside the vehicle")
	ErrTooFar            = rejection("too far away")
	ErrInsufficientFunds = rejection("insufficient funds")
	ErrNotActive         = rejection("vehicle is not active")
	ErrAlreadyActive     = rejection("vehicle is already active")
	ErrNotSold           = rejection("model not sold here")
)

// ErrPersistence wraps every storage failure. The operation that returned it
// left no in-memory trace.
var ErrPersistence = errors.New("vehicle: persistence unavailable")

// ErrInvariant signals a broken registry invariant; it indicates a bug.
var ErrInvariant = errors.New("vehicle: invariant violated")

var (
	ErrDuplicatePlate = &invariantError{"duplicate license plate"}
	ErrDuplicateID    = &invariantError{"duplicate vehicle id"}
)

type rejectionError struct{ msg string }

func rejection(msg string) error { return &rejectionError{msg} }

func (e *rejectionError) Error() string { return "vehicle: " + e.msg }
func (e *rejectionError) Unwrap() error { return ErrRejected }

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return "vehicle: " + e.msg }
func (e *invariantError) Unwrap() error { return ErrInvariant }

// IsRejection reports whether err is a user-facing validation failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}
