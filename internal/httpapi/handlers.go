package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"worklane.org/internal/audit"
	"worklane.org/internal/auth"
	"worklane.org/internal/obs"
)

const serviceName = "worklane-api"

// ReadyProbe is the readiness check backing /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the session service.
type API struct {
	mux         *http.ServeMux
	auth        *auth.Service
	readyProbe  ReadyProbe
	version     string
	corsOrigins []string
}

// Options tunes the HTTP surface.
type Options struct {
	// RateBurst and RatePerSec throttle the credential endpoints per
	// client IP.
	RateBurst  int
	RatePerSec int

	// CORSOrigins lists browser origins allowed to call the API.
	// Empty means no cross-origin access.
	CORSOrigins []string
}

// New wires routes. Credential endpoints get a per-IP rate limit; every
// other protection (bearer auth, body limits, security headers) applies
// uniformly through Handler.
func New(svc *auth.Service, rp ReadyProbe, version string, opts Options) *API {
	a := &API{
		mux:         http.NewServeMux(),
		auth:        svc,
		readyProbe:  rp,
		version:     version,
		corsOrigins: opts.CORSOrigins,
	}

	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	throttle := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, opts.RateBurst, opts.RatePerSec)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", throttle(a.handleLogin))
	a.mux.Handle("/v1/auth/refresh", throttle(a.handleRefresh))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/permissions", a.handlePermissions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeAuthError maps the core's error categories onto HTTP statuses.
// Transient failures become 503 so callers can retry; they are never
// disguised as a denial.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrRefreshDenied):
		writeError(w, r, http.StatusUnauthorized, "refresh denied")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrTransient):
		writeError(w, r, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
