package httpapi

import (
	"net/http"
	"strings"
	"time"

	"marketgate.org/internal/audit"
)

type sessionResponse struct {
	Subject   string    `json:"subject"`
	Display   string    `json:"display,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleSessionCallback is the OAuth redirect target. It exchanges the provider's
// identity assertion for a session cookie, then redirects to next when it is a local path.
func (a *API) handleSessionCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := a.deps.Assertions.Verify(q.Get("assertion"))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "session.rejected", map[string]any{"reason": "assertion_invalid"})
		writeCodedError(w, r, http.StatusUnauthorized, "assertion_invalid", "identity assertion rejected")
		return
	}

	token, s, err := a.deps.Sessions.Issue(id.Subject, id.Display)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	http.SetCookie(w, a.deps.Sessions.Cookie(token, s))
	_ = audit.LogEvent(r.Context(), "session.issued", map[string]any{
		"subject":    s.Subject,
		"expires_at": s.ExpiresAt.Format(time.RFC3339),
	})

	if next := localRedirect(q.Get("next")); next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Subject: s.Subject, Display: s.Display, ExpiresAt: s.ExpiresAt})
}

func (a *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.deps.Sessions.ClearCookie())
	_ = audit.LogEvent(r.Context(), "session.ended", nil)
	w.WriteHeader(http.StatusNoContent)
}

// localRedirect returns next only when it is a path on this host.
func localRedirect(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return ""
	}
	return next
}
