package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"marketgate.org/internal/audit"
	"marketgate.org/internal/identity"
)

type banRequest struct {
	Reason string `json:"reason"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// moderator names the admin performing an action, for ban audit fields.
func moderator(r *http.Request) string {
	if d, ok := DecisionFromContext(r.Context()); ok && d.Account != nil {
		return d.Account.ClaimedIdentifier
	}
	return ""
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := trimParam(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := a.deps.Moderation.Pending(r.Context(), limit)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	if items == nil {
		items = []identity.Account{}
	}
	writeJSON(w, http.StatusOK, listResponse[identity.Account]{Items: items})
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := trimParam(chi.URLParam(r, "accountID"))
	acct, err := a.deps.Moderation.Approve(r.Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeCodedError(w, r, http.StatusNotFound, "not_found", "account not found")
			return
		}
		writeIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "moderation.approve", map[string]any{
		"account_id": acct.ID,
		"by":         moderator(r),
	})
	writeJSON(w, http.StatusOK, accountResponse{Account: acct})
}

func (a *API) handleListBans(w http.ResponseWriter, r *http.Request) {
	items, err := a.deps.Moderation.Bans(r.Context())
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	if items == nil {
		items = []identity.BanRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[identity.BanRecord]{Items: items})
}

func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ban, err := a.deps.Moderation.Ban(r.Context(), chi.URLParam(r, "identifier"), req.Reason, moderator(r))
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "moderation.ban", map[string]any{
		"identifier": ban.Identifier,
		"by":         ban.CreatedBy,
	})
	writeJSON(w, http.StatusOK, ban)
}

func (a *API) handleUnban(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")
	if err := a.deps.Moderation.Unban(r.Context(), id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeCodedError(w, r, http.StatusNotFound, "not_found", "ban not found")
			return
		}
		writeIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "moderation.unban", map[string]any{"identifier": id, "by": moderator(r)})
	w.WriteHeader(http.StatusNoContent)
}
