package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"marketgate.org/internal/identity"
)

const frameWriteTimeout = 5 * time.Second

type watchFrame struct {
	State   string            `json:"state"`
	Account *identity.Account `json:"account,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// handleWatch upgrades to a websocket and pushes the caller's approval state until it
// resolves, goes stale, or the client leaves.
func (a *API) handleWatch(w http.ResponseWriter, r *http.Request) {
	sess, origin, ok := a.caller(w, r)
	if !ok {
		return
	}
	acct, err := a.deps.Binder.Resolve(r.Context(), origin)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.wsOrigins()})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if acct.Approved {
		_ = writeFrame(ctx, conn, watchFrame{State: identity.Resolved.String(), Account: &acct})
		_ = conn.Close(websocket.StatusNormalClosure, "resolved")
		return
	}

	resolved := make(chan identity.Account, 1)
	h, err := a.deps.Watcher.Watch(ctx, sess.BindKey, acct.ID, func(approved identity.Account) {
		resolved <- approved
	})
	if err != nil {
		if errors.Is(err, identity.ErrWatcherActive) {
			_ = conn.Close(websocket.StatusPolicyViolation, "watcher_active")
			return
		}
		_ = writeFrame(ctx, conn, watchFrame{State: identity.Stale.String(), Error: err.Error()})
		_ = conn.Close(websocket.StatusTryAgainLater, "stale")
		return
	}
	defer h.Cancel()

	if err := writeFrame(ctx, conn, watchFrame{State: identity.Watching.String(), Account: &acct}); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	case <-readErr:
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	case approved := <-resolved:
		_ = writeFrame(ctx, conn, watchFrame{State: identity.Resolved.String(), Account: &approved})
		_ = conn.Close(websocket.StatusNormalClosure, "resolved")
	case <-h.Done():
		select {
		case approved := <-resolved:
			_ = writeFrame(ctx, conn, watchFrame{State: identity.Resolved.String(), Account: &approved})
			_ = conn.Close(websocket.StatusNormalClosure, "resolved")
			return
		default:
		}
		frame := watchFrame{State: h.State().String()}
		if werr := h.Err(); werr != nil {
			frame.Error = werr.Error()
		}
		_ = writeFrame(ctx, conn, frame)
		_ = conn.Close(websocket.StatusTryAgainLater, frame.State)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame watchFrame) error {
	wctx, cancel := context.WithTimeout(ctx, frameWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, frame)
}

func (a *API) wsOrigins() []string {
	out := make([]string, 0, len(a.opts.AllowedOrigins)+2)
	for _, o := range a.opts.AllowedOrigins {
		if u := hostPattern(o); u != "" {
			out = append(out, u)
		}
	}
	return append(out, "localhost:*", "127.0.0.1:*")
}

// hostPattern strips the scheme; websocket origin patterns match host[:port].
func hostPattern(origin string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}
