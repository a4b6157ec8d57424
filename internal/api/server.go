// Package api is the HTTP surface: assessment lifecycle, findings, analysis
// and memory lookup. Handlers only validate and translate; scans run in the
// worker.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/vibecheck/internal/analysis"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/memory"
	"github.com/yourorg/vibecheck/internal/model"
)

type Store interface {
	Ping(ctx context.Context) error
	CreateAssessment(ctx context.Context, in db.NewAssessment) (model.Assessment, bool, error)
	GetAssessment(ctx context.Context, id string) (model.Assessment, error)
	ListAssessments(ctx context.Context, q db.AssessmentQuery) ([]model.Assessment, int, error)
	DeleteAssessment(ctx context.Context, id string) error
	EnqueueRerun(ctx context.Context, assessmentID string) (model.Run, error)
	ListEvents(ctx context.Context, assessmentID string, limit int) ([]model.Event, error)
	ListFindings(ctx context.Context, assessmentID string, q db.FindingQuery) ([]model.Finding, int, error)
	GetFinding(ctx context.Context, assessmentID, findingID string) (model.Finding, error)
	RecentByCategory(ctx context.Context, category, excludeID string, limit int) ([]model.Finding, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, asm model.Assessment, f model.Finding, local []model.Finding, focus string) analysis.Result
}

type Memory interface {
	Enabled() bool
	Search(ctx context.Context, query string, limit int, tags []string) memory.Results
}

type Reports interface {
	Load(ctx context.Context, assessmentID string) (model.Report, error)
}

type Options struct {
	Analyzer Analyzer
	Memory   Memory
	Reports  Reports
	// Wake is called after a run is enqueued so an in-process worker starts
	// without waiting for its next poll.
	Wake func()
}

type Server struct {
	store    Store
	analyzer Analyzer
	memory   Memory
	reports  Reports
	wake     func()
	log      *slog.Logger
}

func New(store Store, opts Options) *Server {
	s := &Server{
		store:    store,
		analyzer: opts.Analyzer,
		memory:   opts.Memory,
		reports:  opts.Reports,
		wake:     opts.Wake,
		log:      logging.New("api"),
	}
	if s.analyzer == nil {
		s.analyzer = analysis.New(nil, nil)
	}
	if s.wake == nil {
		s.wake = func() {}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)

	mux.HandleFunc("POST /v1/assessments", s.createAssessment)
	mux.HandleFunc("GET /v1/assessments", s.listAssessments)
	mux.HandleFunc("GET /v1/assessments/{id}", s.getAssessment)
	mux.HandleFunc("DELETE /v1/assessments/{id}", s.deleteAssessment)
	mux.HandleFunc("POST /v1/assessments/{id}/rerun", s.rerunAssessment)
	mux.HandleFunc("GET /v1/assessments/{id}/events", s.listEvents)
	mux.HandleFunc("GET /v1/assessments/{id}/report", s.getReport)

	mux.HandleFunc("GET /v1/assessments/{id}/findings", s.listFindings)
	mux.HandleFunc("GET /v1/assessments/{id}/findings/{finding_id}", s.getFinding)
	mux.HandleFunc("POST /v1/assessments/{id}/findings/{finding_id}/analyze", s.analyzeFinding)

	mux.HandleFunc("GET /v1/memory/status", s.memoryStatus)
	mux.HandleFunc("GET /v1/memory/search", s.memorySearch)
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		lvl := slog.LevelDebug
		if rec.status >= 500 {
			lvl = slog.LevelError
		}
		s.log.Log(r.Context(), lvl, "request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

// healthz checks DB connectivity with a 2s timeout and answers 503 when the
// database is unreachable.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("healthz: db ping failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
