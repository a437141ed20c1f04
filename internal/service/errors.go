package service

import "errors"

// Error kinds surfaced by the session/notification subsystem. Handlers and
// the realtime handshake translate these into transport-level responses;
// anything else is treated as an internal failure.
var (
	// ErrInvalidToken means the token is malformed, expired or carries a
	// bad signature. The caller was never authenticated.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized means the token verified but the subject is rejected:
	// inactive identity, or a refresh token absent from its allowlist.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the requested record does not exist or is not owned
	// by the requester.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means a backing store or gateway could not be reached.
	ErrUnavailable = errors.New("service unavailable")

	// ErrAlreadyExists means a unique constraint was violated on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials means the email/password pair did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
