package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/model"
)

const localContextLimit = 10

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, perPage, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	qs := r.URL.Query()
	q := db.FindingQuery{
		Category: qs.Get("category"),
		Agent:    qs.Get("agent"),
		Q:        strings.TrimSpace(qs.Get("q")),
		Sort:     qs.Get("sort"),
		Page:     p,
		PerPage:  perPage,
	}
	if v := qs.Get("severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			s.writeError(w, r, apperr.Validation("severity must be one of critical, high, medium, low, info"))
			return
		}
		q.Severity = sev
	}
	if !db.ValidFindingSort(q.Sort) {
		s.writeError(w, r, apperr.Validation("sort must be severity or one of created_at, category, title, agent, optionally prefixed with '-'"))
		return
	}
	items, total, err := s.store.ListFindings(r.Context(), a.ID, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, p, perPage, total))
}

func (s *Server) finding(r *http.Request, a model.Assessment) (model.Finding, error) {
	id := r.PathValue("finding_id")
	f, err := s.store.GetFinding(r.Context(), a.ID, id)
	if errors.Is(err, db.ErrNotFound) {
		return f, apperr.NotFound("Finding", id)
	}
	return f, err
}

func (s *Server) getFinding(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.finding(r, a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type analyzeRequest struct {
	Focus string `json:"focus,omitempty"`
}

func (s *Server) analyzeFinding(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessment(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.finding(r, a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req analyzeRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	local, err := s.store.RecentByCategory(r.Context(), f.Category, f.ID, localContextLimit)
	if err != nil {
		// local context is an enrichment; analysis proceeds without it
		s.log.Warn("local context lookup failed", "finding_id", f.ID, "err", err)
		local = nil
	}
	res := s.analyzer.Analyze(r.Context(), a, f, local, strings.TrimSpace(req.Focus))
	writeJSON(w, http.StatusOK, map[string]any{
		"assessment_id": a.ID,
		"finding_id":    f.ID,
		"analysis":      res,
	})
}
