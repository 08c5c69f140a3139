package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrAssertionInvalid = errors.New("session: invalid identity assertion")

// Identity is the caller as asserted by the OAuth provider.
type Identity struct {
	Subject string
	Display string
}

type assertionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Assertions verifies the short-lived HS256 identity assertion the OAuth provider
// passes to the callback after a successful login.
type Assertions struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// AssertionOption configures Assertions.
type AssertionOption func(*Assertions)

func WithAssertionClock(now func() time.Time) AssertionOption {
	return func(a *Assertions) { a.now = now }
}

// NewAssertions builds a verifier. An empty issuer is not checked; audience is required.
func NewAssertions(secret, issuer, audience string, opts ...AssertionOption) (*Assertions, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: assertion secret is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("session: assertion audience is required")
	}
	a := &Assertions{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Verify checks signature, audience, issuer and expiry, and returns the asserted identity.
func (a *Assertions) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrAssertionInvalid
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	var c assertionClaims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrAssertionInvalid
	}
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Identity{}, ErrAssertionInvalid
	}
	return Identity{Subject: subject, Display: strings.TrimSpace(c.Name)}, nil
}
