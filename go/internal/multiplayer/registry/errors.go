package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a join is missing required fields.
	// It is reported to the requester only.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when the referenced room or participant no longer
	// exists, typically because the operation raced a disconnect.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInRoom is returned when a connection that is already a member
	// of a room tries to join again.
	ErrAlreadyInRoom = fmt.Errorf("%w: connection already in a room", ErrInvalidRequest)
)
