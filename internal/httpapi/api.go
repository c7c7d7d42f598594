// Package httpapi serves the operations API: session lifecycle, job
// management, lifecycle event streams, metrics and optional pprof.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schedbot/internal/content"
	"schedbot/internal/metrics"
	"schedbot/internal/session"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
)

// Deps are the services behind the API. Producers, Store and Metrics are
// optional.
type Deps struct {
	Sessions  *session.Registry
	Producers *content.Catalog
	Store     storage.Store
	Metrics   *metrics.Metrics
	// Health adds process details (supervisor tasks, version) to /healthz.
	Health func() map[string]any
	// Audit records mutating requests.
	Audit func(ctx context.Context, e storage.AuditEntry)
	Log   logx.Logger
}

type HandlerOptions struct {
	Token string
	Pprof bool
}

type api struct {
	Deps
	log logx.Logger
}

// NewHandler builds the chi router. Everything except /healthz requires
// the bearer token when one is set.
func NewHandler(d Deps, opts HandlerOptions) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{Deps: d, log: log.With(logx.String("comp", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, a.logRequests)

	r.Get("/healthz", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
		}
		if opts.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", a.handleListSessions)
			r.Route("/{tenant}", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Post("/", a.handleCreateSession)
				r.Delete("/", a.handleDestroySession)
				r.Get("/events", a.handleEvents)
				r.Get("/audit", a.handleAudit)
				r.Route("/jobs", func(r chi.Router) {
					r.Get("/", a.handleListJobs)
					r.Post("/", a.handleCreateJob)
					r.Get("/{id}", a.handleGetJob)
					r.Delete("/{id}", a.handleDeleteJob)
					r.Post("/{id}/stop", a.handleStopJob)
					r.Post("/{id}/start", a.handleStartJob)
					r.Post("/{id}/run", a.handleRunJob)
				})
			})
		})
	})
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				// EventSource cannot set headers
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.Sessions != nil {
		counts := map[string]int{}
		for st, n := range a.Sessions.CountByState() {
			counts[string(st)] = n
		}
		body["sessions"] = counts
	}
	if a.Health != nil {
		for k, v := range a.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) audit(r *http.Request, action, tenant, target string, err error, start time.Time) {
	if a.Metrics != nil {
		a.Metrics.Action(action, err)
	}
	if a.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		Tenant: tenant,
		Actor:  "http",
		Action: action,
		Target: target,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Fail, e.Error = 1, err.Error()
	} else {
		e.OK = 1
	}
	a.Audit(r.Context(), e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
