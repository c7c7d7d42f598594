package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"schedbot/internal/session"
	"schedbot/internal/storage"
)

func (a *api) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Sessions.Infos())
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *api) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	start := time.Now()
	s, err := a.Sessions.Create(r.Context(), tenant)
	a.audit(r, "session.create", tenant, tenant, err, start)
	switch {
	case errors.Is(err, session.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusCreated, s.Info())
	}
}

// handleDestroySession stops the transport. Jobs keep firing detached unless
// purge=true, which deletes them first.
func (a *api) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	tenant := s.Tenant()
	start := time.Now()
	purged := 0
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge {
		purged = s.Jobs().PurgeAll()
	}
	if !a.Sessions.Destroy(r.Context(), tenant) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", tenant))
		return
	}
	a.audit(r, "session.destroy", tenant, tenant, nil, start)
	if a.Metrics != nil {
		a.Metrics.ForgetTenant(tenant)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "destroyed": true, "purged_jobs": purged})
}

func (a *api) handleAudit(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		writeError(w, http.StatusNotFound, storage.ErrDisabled.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.Store.Recent(r.Context(), chi.URLParam(r, "tenant"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	tenant := chi.URLParam(r, "tenant")
	s, ok := a.Sessions.Get(tenant)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", tenant))
	}
	return s, ok
}
