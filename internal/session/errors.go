package session

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/warpchat/internal/webrtc"
)

var (
	ErrNotInRoom          = errors.New("not in a room")
	ErrAlreadyInRoom      = errors.New("already in a room")
	ErrClosed             = errors.New("session closed")
	ErrRoomMismatch       = errors.New("token belongs to a different room")
	ErrUnexpectedToken    = errors.New("unexpected token type")
	ErrNotWaiting         = errors.New("not waiting for an offer")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)

// Error describes a failed session operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// ErrTransportUnavailable means no peer-to-peer transport could be created.
// It only fails room creation and joining; relay chat still works.
var ErrTransportUnavailable = webrtc.ErrTransportUnavailable

func transportError(err error) error {
	if errors.Is(err, ErrTransportUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
}
