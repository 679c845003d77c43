// SPDX-License-Identifier: MIT

package session

import "errors"

var (
	// ErrDuplicateSession signals Create for an id that already exists.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrUnknownSession signals an operation on an id never created.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionNotActive signals a mutation on a finalizing or completed
	// session. Callers on the message path treat this as a no-op.
	ErrSessionNotActive = errors.New("session not active")

	// ErrInvalidTransition signals an illegal status edge.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidConfig signals a session config outside contract bounds.
	ErrInvalidConfig = errors.New("invalid session config")
)
