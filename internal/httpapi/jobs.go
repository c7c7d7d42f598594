package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"schedbot/internal/jobs"
	"schedbot/internal/session"
)

// jobRequest is the job configuration input. ID is generated when empty.
type jobRequest struct {
	ID string `json:"id,omitempty"`
	jobs.Config
	// Producer names a content producer used instead of Message.
	Producer string `json:"producer,omitempty"`
}

type jobList struct {
	Summary jobs.Summary    `json:"summary"`
	Jobs    []jobs.Snapshot `json:"jobs"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	list := s.Jobs().List()
	if list == nil {
		list = []jobs.Snapshot{}
	}
	writeJSON(w, http.StatusOK, jobList{Summary: s.Jobs().Summary(), Jobs: list})
}

func (a *api) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	start := time.Now()
	snap, err := a.createJob(s, req)
	a.audit(r, "job.create", s.Tenant(), req.ID, err, start)
	switch {
	case err == nil:
		a.refreshJobs(s)
		writeJSON(w, http.StatusCreated, snap)
	case errors.Is(err, jobs.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	case jobs.IsValidation(err), errors.Is(err, jobs.ErrContentUnavailable):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *api) createJob(s *session.Session, req jobRequest) (jobs.Snapshot, error) {
	cfg := req.Config
	if req.Producer != "" {
		if a.Producers == nil {
			return jobs.Snapshot{}, jobs.ErrContentUnavailable
		}
		if err := a.Producers.Bind(&cfg, req.Producer); err != nil {
			return jobs.Snapshot{}, err
		}
	}
	return s.Jobs().CreateAndSchedule(req.ID, cfg)
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	snap, found := s.Jobs().Get(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	a.jobAction(w, r, "job.delete", (*jobs.Manager).Delete)
}

func (a *api) handleStopJob(w http.ResponseWriter, r *http.Request) {
	a.jobAction(w, r, "job.stop", (*jobs.Manager).Stop)
}

func (a *api) handleStartJob(w http.ResponseWriter, r *http.Request) {
	a.jobAction(w, r, "job.start", (*jobs.Manager).Start)
}

// jobAction answers with the manager's status string; unknown ids are 404
// with the same not-found status.
func (a *api) jobAction(w http.ResponseWriter, r *http.Request, action string, fn func(*jobs.Manager, string) (string, bool)) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	start := time.Now()
	status, found := fn(s.Jobs(), id)
	var err error
	if !found {
		err = jobs.ErrNotFound
	}
	a.audit(r, action, s.Tenant(), id, err, start)
	if !found {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: status})
		return
	}
	a.refreshJobs(s)
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (a *api) handleRunJob(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !s.IsReady() {
		writeError(w, http.StatusConflict, fmt.Sprintf("session %s is %s", s.Tenant(), s.State()))
		return
	}
	start := time.Now()
	rep, err := s.Jobs().RunNow(r.Context(), id)
	a.audit(r, "job.run", s.Tenant(), id, err, start)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) refreshJobs(s *session.Session) {
	if a.Metrics != nil {
		a.Metrics.SetJobs(s.Tenant(), s.Jobs().Summary())
	}
}
