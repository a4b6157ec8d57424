package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/yourorg/vibecheck/internal/apperr"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
	maxBodyBytes   = 8 << 20
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    apperr.Type `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type page[T any] struct {
	Items []T      `json:"items"`
	Meta  pageMeta `json:"meta"`
}

func newPage[T any](items []T, p, perPage, total int) page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return page[T]{Items: items, Meta: pageMeta{Page: p, PerPage: perPage, Total: total, TotalPages: pages}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the error envelope. Errors outside the taxonomy
// become a 500 without leaking their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	if e.Status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, e.Status, errorBody{Error: errorDetail{Type: e.Type, Code: e.Code, Message: e.Message}})
}

// pagination reads page and per_page, enforcing page >= 1 and
// 1 <= per_page <= 100.
func pagination(r *http.Request) (int, int, error) {
	p, err := intParam(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		return 0, 0, err
	}
	if p < 1 {
		return 0, 0, apperr.Validation("page must be >= 1")
	}
	if perPage < 1 || perPage > maxPerPage {
		return 0, 0, apperr.Validation("per_page must be between 1 and %d", maxPerPage)
	}
	return p, perPage, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

// decodeBody decodes a JSON body into v. An empty body is allowed when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}
