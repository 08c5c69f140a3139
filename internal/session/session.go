// Package session issues and reads the signed session cookie minted after the OAuth
// callback, and resolves the bind key used to look up a caller's Account.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "marketgate"

var (
	ErrNoSession      = errors.New("session: no session")
	ErrSessionInvalid = errors.New("session: invalid session")
)

// Session is the authenticated browser session.
type Session struct {
	Subject   string
	Display   string
	BindKey   string
	ExpiresAt time.Time
}

type claims struct {
	Display string `json:"name,omitempty"`
	BindKey string `json:"bid"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	secret []byte
	cookie string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithInsecureCookie drops the Secure flag for plain-HTTP development.
func WithInsecureCookie() Option {
	return func(m *Manager) { m.secure = false }
}

func NewManager(secret, cookieName string, ttl time.Duration, opts ...Option) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be greater than zero")
	}
	if cookieName == "" {
		cookieName = "mg_session"
	}
	m := &Manager{secret: []byte(secret), cookie: cookieName, ttl: ttl, secure: true, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints a session for subject with a fresh opaque bind key.
func (m *Manager) Issue(subject, display string) (string, Session, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", Session{}, errors.New("session: subject is required")
	}
	now := m.now().UTC()
	s := Session{
		Subject:   subject,
		Display:   strings.TrimSpace(display),
		BindKey:   uuid.NewString(),
		ExpiresAt: now.Add(m.ttl).Truncate(time.Second),
	}
	c := claims{
		Display: s.Display,
		BindKey: s.BindKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("session: sign: %w", err)
	}
	return signed, s, nil
}

// Parse verifies a raw token.
func (m *Manager) Parse(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrNoSession
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return Session{}, ErrSessionInvalid
	}
	if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.BindKey) == "" {
		return Session{}, ErrSessionInvalid
	}
	return Session{
		Subject:   c.Subject,
		Display:   c.Display,
		BindKey:   c.BindKey,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// FromRequest reads the session cookie, falling back to a bearer token.
func (m *Manager) FromRequest(r *http.Request) (Session, error) {
	if ck, err := r.Cookie(m.cookie); err == nil && ck.Value != "" {
		return m.Parse(ck.Value)
	}
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return Session{}, ErrSessionInvalid
		}
		return m.Parse(h[len(prefix):])
	}
	return Session{}, ErrNoSession
}

// Cookie builds the Set-Cookie value for a freshly issued token.
func (m *Manager) Cookie(token string, s Session) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware attaches a valid session to the request context. Requests without one pass through.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.FromRequest(r)
		if err == nil {
			r = r.WithContext(WithSession(r.Context(), s))
		} else if errors.Is(err, ErrSessionInvalid) {
			r = r.WithContext(withFailure(r.Context(), err))
		}
		next.ServeHTTP(w, r)
	})
}

type sessionKey struct{}
type failureKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func withFailure(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, failureKey{}, err)
}

// FromContext returns the session attached by Middleware, or ErrNoSession / ErrSessionInvalid.
func FromContext(ctx context.Context) (Session, error) {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s, nil
	}
	if err, ok := ctx.Value(failureKey{}).(error); ok {
		return Session{}, err
	}
	return Session{}, ErrNoSession
}
