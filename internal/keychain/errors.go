package keychain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no keychain, default, or record matches.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate definitions, e.g. two record
	// classes in one attribute list or creating a keychain that exists.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable is returned when a resolved keychain cannot be reached.
	ErrUnavailable = errors.New("keychain unavailable")

	// ErrDoesNotExist is the engine's "datastore does not exist" failure.
	ErrDoesNotExist = fmt.Errorf("%w: keychain does not exist", ErrUnavailable)

	// ErrLocked is returned when an operation needs an unlocked keychain.
	ErrLocked = fmt.Errorf("%w: keychain is locked", ErrUnavailable)

	// ErrAuthFailed is returned when a passphrase does not match.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrInteractionNotAllowed is returned when an operation needs UI but
	// the environment forbids it.
	ErrInteractionNotAllowed = errors.New("user interaction not allowed")

	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)
