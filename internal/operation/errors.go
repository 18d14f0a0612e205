package operation

import (
	"errors"
	"fmt"

	"opsplane/internal/store"
)

var (
	// ErrValidation marks malformed input: an empty device list, a bad
	// operation definition or an undecodable activity id.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization means permissions could not be checked. A denial is not an error.
	ErrAuthorization = errors.New("authorization check failed")

	// ErrAccessDenied is returned on the device paths when the caller may not act on the device.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is store.ErrNotFound, so either can be matched with errors.Is.
	ErrNotFound = store.ErrNotFound

	// ErrConflict is store.ErrConflict: a status change would reopen a
	// NO_REPEAT operation while another of the same code is outstanding.
	ErrConflict = store.ErrConflict

	// ErrStore wraps persistence failures. Any open transaction has been rolled back.
	ErrStore = errors.New("store failure")

	// ErrDeliveryFailed is returned by notification strategies. AddOperation
	// converts it into a batch push retry and never returns it.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrNotModified means nothing changed after the If-Modified-Since cutoff.
	ErrNotModified = errors.New("not modified")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError keeps not-found and conflict results distinguishable and tags
// everything else as ErrStore.
func storeError(action string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrStore, action, err)
}
