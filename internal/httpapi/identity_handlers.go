package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"marketgate.org/internal/audit"
	"marketgate.org/internal/identity"
	"marketgate.org/internal/obs"
	"marketgate.org/internal/session"
)

type submitRequest struct {
	Identifier string `json:"identifier"`
}

type accountResponse struct {
	Account  identity.Account `json:"account"`
	WatchURL string           `json:"watch_url,omitempty"`
}

const watchPath = "/v1/identity/watch"

// caller runs the first two pipeline stages: session then origin.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (session.Session, string, bool) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		code := "no_session"
		if errors.Is(err, session.ErrSessionInvalid) {
			code = "session_invalid"
		}
		writeCodedError(w, r, http.StatusUnauthorized, code, "sign in required")
		return session.Session{}, "", false
	}
	origin, err := a.deps.Origins.Origin(r)
	if err != nil {
		writeCodedError(w, r, http.StatusServiceUnavailable, "origin_unavailable", "caller origin unavailable")
		return session.Session{}, "", false
	}
	return sess, origin, true
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, origin, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	display := sess.Display
	if display == "" {
		display = sess.Subject
	}

	acct, err := a.deps.Submitter.Submit(r.Context(), origin, req.Identifier, display)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.submission", map[string]any{
		"account_id": acct.ID,
		"approved":   acct.Approved,
	})
	status := http.StatusOK
	if !acct.Approved {
		status = http.StatusAccepted
	}
	resp := accountResponse{Account: acct}
	if !acct.Approved {
		resp.WatchURL = watchPath
	}
	writeJSON(w, status, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	_, origin, ok := a.caller(w, r)
	if !ok {
		return
	}
	acct, err := a.deps.Binder.Resolve(r.Context(), origin)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	resp := accountResponse{Account: acct}
	if !acct.Approved {
		resp.WatchURL = watchPath
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeIdentityError maps pipeline errors onto HTTP statuses.
func writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrIdentifierInvalid):
		writeCodedError(w, r, http.StatusUnprocessableEntity, "identifier_invalid", "identifier must be 32 hexadecimal characters")
	case errors.Is(err, identity.ErrIdentifierNotFound):
		writeCodedError(w, r, http.StatusUnprocessableEntity, "identifier_not_found", "identifier not found in directory")
	case errors.Is(err, identity.ErrNotFound):
		writeCodedError(w, r, http.StatusNotFound, "not_found", "no account bound to this session")
	case errors.Is(err, identity.ErrOriginUnavailable):
		writeCodedError(w, r, http.StatusServiceUnavailable, "origin_unavailable", "caller origin unavailable")
	case errors.Is(err, identity.ErrVerifierUnavailable):
		writeCodedError(w, r, http.StatusServiceUnavailable, "verifier_unavailable", "identity directory unavailable")
	case errors.Is(err, identity.ErrStoreUnavailable):
		writeCodedError(w, r, http.StatusServiceUnavailable, "store_unavailable", "storage unavailable")
	default:
		obs.Logger().Error("identity_request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func trimParam(s string) string { return strings.TrimSpace(s) }
