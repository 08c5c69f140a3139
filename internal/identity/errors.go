package identity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("identity: not found")
	ErrOriginUnavailable   = errors.New("identity: origin unavailable")
	ErrIdentifierInvalid   = errors.New("identity: identifier invalid")
	ErrIdentifierNotFound  = errors.New("identity: identifier not found in directory")
	ErrVerifierUnavailable = errors.New("identity: verifier unavailable")
	ErrStoreUnavailable    = errors.New("identity: store unavailable")
	ErrSubscriptionDropped = errors.New("identity: subscription dropped")
	ErrWatcherActive       = errors.New("identity: watcher already attached")
)

// storeFailure wraps a backend error as ErrStoreUnavailable, leaving ErrNotFound untouched.
func storeFailure(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
