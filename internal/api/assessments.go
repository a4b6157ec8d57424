package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/archive"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/model"
)

const maxEvents = 500

type links struct {
	Self     string `json:"self"`
	Findings string `json:"findings"`
	Events   string `json:"events"`
}

type assessmentBody struct {
	model.Assessment
	Links links `json:"links"`
}

func withLinks(a model.Assessment) assessmentBody {
	base := "/v1/assessments/" + a.ID
	return assessmentBody{Assessment: a, Links: links{Self: base, Findings: base + "/findings", Events: base + "/events"}}
}

// assessment loads the {id} path value, mapping a miss to ASSESSMENT_NOT_FOUND.
func (s *Server) assessment(r *http.Request) (model.Assessment, error) {
	id := r.PathValue("id")
	a, err := s.store.GetAssessment(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return a, apperr.NotFound("Assessment", id)
	}
	return a, err
}

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if h := strings.TrimSpace(r.Header.Get("Idempotency-Key")); h != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = h
	}
	in, err := req.validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, created, err := s.store.CreateAssessment(r.Context(), in)
	if errors.Is(err, db.ErrIdempotencyConflict) {
		s.writeError(w, r, apperr.Conflict(apperr.CodeDuplicateIdempotency,
			"idempotency_key '%s' was already used with a different request", in.IdempotencyKey))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, withLinks(a))
		return
	}
	s.log.Info("assessment queued", "assessment_id", a.ID, "mode", string(a.Mode))
	s.wake()
	w.Header().Set("Location", "/v1/assessments/"+a.ID)
	writeJSON(w, http.StatusAccepted, withLinks(a))
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	p, perPage, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := db.AssessmentQuery{Page: p, PerPage: perPage}
	if v := r.URL.Query().Get("mode"); v != "" {
		if q.Mode = model.Mode(v); !q.Mode.Valid() {
			s.writeError(w, r, apperr.Validation("unknown mode %q", v))
			return
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if q.Status = model.Status(v); !q.Status.Valid() {
			s.writeError(w, r, apperr.Validation("unknown status %q", v))
			return
		}
	}
	switch sort := r.URL.Query().Get("sort"); sort {
	case "", "created_at":
	case "-created_at":
		q.Desc = true
	default:
		s.writeError(w, r, apperr.Validation("sort must be created_at or -created_at"))
		return
	}
	items, total, err := s.store.ListAssessments(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, p, perPage, total))
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withLinks(a))
}

func (s *Server) deleteAssessment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteAssessment(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		err = apperr.NotFound("Assessment", id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("assessment deleted", "assessment_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rerunAssessment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.EnqueueRerun(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		err = apperr.NotFound("Assessment", id)
	case errors.Is(err, db.ErrRunInProgress):
		err = apperr.Conflict(apperr.CodeRunInProgress, "assessment '%s' already has a queued or running run", id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.wake()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"assessment_id": id,
		"run_id":        run.ID,
		"status":        run.Status,
		"links":         links{Self: "/v1/assessments/" + id, Findings: "/v1/assessments/" + id + "/findings", Events: "/v1/assessments/" + id + "/events"},
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evs, err := s.store.ListEvents(r.Context(), a.ID, maxEvents)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": evs})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.reports == nil || a.ReportKey == "" {
		s.writeError(w, r, apperr.NotFound("Report", a.ID))
		return
	}
	rep, err := s.reports.Load(r.Context(), a.ID)
	if errors.Is(err, archive.ErrNotArchived) {
		err = apperr.NotFound("Report", a.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
