package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/obs"
)

type decisionKey struct{}

// DecisionFromContext returns the Decision that admitted the request through Guard.
func DecisionFromContext(ctx context.Context) (identity.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(identity.Decision)
	return d, ok
}

// authorize evaluates the gate for r. A request with no resolvable bind key is anonymous.
func (a *API) authorize(r *http.Request, role identity.Role) (identity.Decision, error) {
	origin, err := a.deps.Origins.Origin(r)
	if err != nil {
		return a.deps.Gate.AuthorizeAnonymous(role), nil
	}
	return a.deps.Gate.Authorize(r.Context(), origin, role)
}

// Guard re-evaluates ban and admin status on every request of the routes it wraps.
// Browser page loads are redirected; API clients get JSON errors.
func (a *API) Guard(role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := a.authorize(r, role)
			if err != nil {
				obs.Logger().Warn("gate_lookup_failed", zap.String("role", string(role)), zap.Error(err))
				writeCodedError(w, r, http.StatusServiceUnavailable, string(identity.ReasonUnavailable), "authorization temporarily unavailable")
				return
			}
			if d.Allowed {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
				return
			}
			a.deny(w, r, d)
		})
	}
}

func (a *API) deny(w http.ResponseWriter, r *http.Request, d identity.Decision) {
	if wantsHTML(r) {
		target := "/"
		if d.Reason == identity.ReasonBanned {
			target = "/banned?" + url.Values{"reason": {d.BanReason}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	msg := "access denied"
	switch d.Reason {
	case identity.ReasonBanned:
		msg = "banned: " + d.BanReason
	case identity.ReasonAnonymous:
		msg = "sign in and link an identity first"
	case identity.ReasonPending:
		msg = "awaiting moderator approval"
	case identity.ReasonNotAuthorized:
		msg = "not authorized"
	}
	writeCodedError(w, r, http.StatusForbidden, string(d.Reason), msg)
}

type gateResponse struct {
	Allowed   bool              `json:"allowed"`
	Role      identity.Role     `json:"role"`
	Reason    string            `json:"reason,omitempty"`
	BanReason string            `json:"ban_reason,omitempty"`
	Account   *identity.Account `json:"account,omitempty"`
}

// handleGate exposes the decision so the front end can pick a page without a redirect.
func (a *API) handleGate(w http.ResponseWriter, r *http.Request) {
	role, err := identity.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.authorize(r, role)
	if err != nil {
		writeCodedError(w, r, http.StatusServiceUnavailable, string(identity.ReasonUnavailable), "authorization temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, gateResponse{
		Allowed:   d.Allowed,
		Role:      role,
		Reason:    string(d.Reason),
		BanReason: d.BanReason,
		Account:   d.Account,
	})
}
