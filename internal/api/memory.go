package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/memory"
)

const (
	defaultMemoryLimit = 5
	maxMemoryLimit     = 20
)

func (s *Server) memoryEnabled() bool { return s.memory != nil && s.memory.Enabled() }

func (s *Server) memoryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"enabled": s.memoryEnabled(), "provider": "supermemory"})
}

func (s *Server) memorySearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, r, apperr.Validation("q is required"))
		return
	}
	limit, err := intParam(r, "limit", defaultMemoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit < 1 || limit > maxMemoryLimit {
		s.writeError(w, r, apperr.Validation("limit must be between 1 and %d", maxMemoryLimit))
		return
	}

	var tags []string
	if id := r.URL.Query().Get("assessment_id"); id != "" {
		a, err := s.store.GetAssessment(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			err = apperr.NotFound("Assessment", id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tags = memory.Scope{AssessmentID: a.ID, Mode: a.Mode, RepoURL: a.RepoURL, TargetURL: a.TargetURL}.Tags()
	}

	if !s.memoryEnabled() {
		writeJSON(w, http.StatusOK, memory.Results{Results: []map[string]any{}, Enabled: false})
		return
	}
	writeJSON(w, http.StatusOK, s.memory.Search(r.Context(), q, limit, tags))
}
