package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionExpired rejects completion of an upload session past expires_at.
	ErrSessionExpired = errors.New("upload session expired")
	// ErrSessionTerminal rejects writes to a completed/failed/expired session.
	ErrSessionTerminal = errors.New("upload session already terminal")
	// ErrChecksumMismatch marks a permanent upload completion failure.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidTransition rejects approval moves the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrVersionConflict surfaces current-version invariant violations.
	ErrVersionConflict = errors.New("asset version conflict")
)
