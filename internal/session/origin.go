package session

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrOriginUnavailable means the request carries no usable bind key.
var ErrOriginUnavailable = errors.New("session: origin unavailable")

// OriginResolver derives the bind key for a request.
type OriginResolver interface {
	Origin(r *http.Request) (string, error)
}

// IPResolver binds by client network address. X-Forwarded-For is honoured only
// behind a trusted proxy.
type IPResolver struct {
	TrustForwarded bool
}

func (res IPResolver) Origin(r *http.Request) (string, error) {
	ip := ClientIP(r, res.TrustForwarded)
	if ip == "" {
		return "", ErrOriginUnavailable
	}
	return ip, nil
}

// BindKeyResolver binds by the opaque key stored in the session, so shared or
// rotating addresses do not collide.
type BindKeyResolver struct{}

func (BindKeyResolver) Origin(r *http.Request) (string, error) {
	s, err := FromContext(r.Context())
	if err != nil || s.BindKey == "" {
		return "", ErrOriginUnavailable
	}
	return "bid:" + s.BindKey, nil
}

// ClientIP returns the caller address, optionally the first X-Forwarded-For hop.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(strings.TrimSpace(host)); ip != nil {
		return ip.String()
	}
	return ""
}
