package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"marketgate.org/internal/audit"
	"marketgate.org/internal/identity"
	"marketgate.org/internal/obs"
	"marketgate.org/internal/session"
)

const serviceName = "marketgate-api"

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps wires the identity pipeline into the HTTP layer. Every field except Ready is required.
type Deps struct {
	Sessions   *session.Manager
	Assertions *session.Assertions
	Origins    session.OriginResolver
	Binder     *identity.Binder
	Submitter  *identity.Submitter
	Gate       *identity.Gate
	Watcher    *identity.Watcher
	Moderation *identity.Moderation
	Ready      ReadinessChecker
	Version    string
}

// Options tunes the middleware stack.
type Options struct {
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustForwarded bool
}

// API is the HTTP layer.
type API struct {
	deps    Deps
	opts    Options
	router  chi.Router
	limiter *ipLimiter
}

func New(deps Deps, opts Options) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyFunc(nil)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		deps:    deps,
		opts:    opts,
		limiter: newIPLimiter(opts.RateBurst, opts.RatePerSec, opts.TrustForwarded),
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.AllowedOrigins))
	r.Use(obs.Instrument)
	r.Use(a.deps.Sessions.Middleware)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))

		r.Route("/v1/session", func(r chi.Router) {
			r.Get("/callback", a.handleSessionCallback)
			r.Delete("/", a.handleSessionEnd)
		})
		r.Get("/v1/gate", a.handleGate)
		r.Route("/v1/identity", func(r chi.Router) {
			r.Post("/submissions", a.handleSubmit)
			r.Get("/me", a.handleMe)
			r.Get("/watch", a.handleWatch)
		})
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(a.Guard(identity.RoleAdmin))
			r.Get("/pending", a.handlePending)
			r.Post("/accounts/{accountID}/approve", a.handleApprove)
			r.Get("/bans", a.handleListBans)
			r.Put("/bans/{identifier}", a.handleBan)
			r.Delete("/bans/{identifier}", a.handleUnban)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler { return a.router }

// Router exposes the chi router so front-end page handlers can be mounted behind Guard.
func (a *API) Router() chi.Router { return a.router }

// Close stops background limiter housekeeping.
func (a *API) Close() { a.limiter.Stop() }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

// --- helpers ---

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeCodedError(w, r, status, "", msg)
}

func writeCodedError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: audit.RequestID(r.Context())})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// wantsHTML reports whether the caller is a browser page load rather than an API client.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.HasPrefix(r.URL.Path, "/v1/")
}
