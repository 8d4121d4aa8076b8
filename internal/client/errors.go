package client

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrLoginRejected is matched by the error Login returns when the server refuses the identity.
	ErrLoginRejected = errors.New("login rejected")

	// ErrClosed is returned by Change once the session has ended.
	ErrClosed = errors.New("session closed")

	// ErrNotStreaming is returned by Run and Change before the handshake has completed.
	ErrNotStreaming = errors.New("session is not streaming")
)

// RejectedError carries the reason the server gave for refusing a login.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("login rejected: %s", e.Reason)
}

// Is makes errors.Is(err, ErrLoginRejected) hold.
func (e *RejectedError) Is(target error) bool {
	return target == ErrLoginRejected
}
