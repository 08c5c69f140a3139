package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IdentifierLength is the fixed length of a claimed platform identifier.
const IdentifierLength = 32

// NormalizeIdentifier trims and lower-cases a claimed identifier.
func NormalizeIdentifier(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidIdentifier reports whether id is a normalized 32-character hex token.
func ValidIdentifier(id string) bool {
	if len(id) != IdentifierLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Verifier checks claimed identifiers against the external directory.
type Verifier struct {
	dir     Directory
	timeout time.Duration
}

// NewVerifier wraps dir. A non-positive timeout leaves the caller's deadline in charge.
func NewVerifier(dir Directory, timeout time.Duration) *Verifier {
	return &Verifier{dir: dir, timeout: timeout}
}

// Verify validates the identifier format and returns the directory display name.
// It never retries; ErrIdentifierNotFound and ErrVerifierUnavailable are terminal for the attempt.
func (v *Verifier) Verify(ctx context.Context, identifier string) (string, error) {
	id := NormalizeIdentifier(identifier)
	if !ValidIdentifier(id) {
		return "", ErrIdentifierInvalid
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	name, err := v.dir.Lookup(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrIdentifierNotFound):
		return "", ErrIdentifierNotFound
	default:
		return "", fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty display name", ErrVerifierUnavailable)
	}
	return name, nil
}
