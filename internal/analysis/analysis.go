// Package analysis enriches one stored finding with language-model guidance
// and similar historical findings. When the model is missing or misbehaves a
// deterministic analysis is returned instead, so the operation never fails on
// a collaborator outage.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/yourorg/vibecheck/internal/llm"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/memory"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/schemas"
)

const (
	SourceGemini   = "gemini"
	SourceFallback = "fallback"

	memoryLimit = 5
)

// Result is returned by Analyze. Error is set whenever the fallback was used
// because the model was unavailable or returned something unusable.
type Result struct {
	AnalysisSource            string   `json:"analysis_source"`
	Error                     string   `json:"error,omitempty"`
	Summary                   string   `json:"summary"`
	Impact                    string   `json:"impact"`
	PossibleRootCause         string   `json:"possible_root_cause"`
	ModeGuidance              string   `json:"mode_guidance"`
	WhereToFix                any      `json:"where_to_fix"`
	Actions                   []string `json:"actions"`
	MemorySimilarResultsCount int      `json:"memory_similar_results_count"`
	MemorySimilarResults      []any    `json:"memory_similar_results"`
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int, tags []string) memory.Results
}

type Analyzer struct {
	llm llm.Client
	mem Searcher
	log *slog.Logger
}

// New accepts a nil client (fallback only) and a nil searcher (no memory).
func New(client llm.Client, mem Searcher) *Analyzer {
	return &Analyzer{llm: client, mem: mem, log: logging.New("analysis")}
}

var (
	fileLinePattern = regexp.MustCompile(`[A-Za-z0-9_\-./]+\.[A-Za-z0-9]+:\d+`)
	lineNoPattern   = regexp.MustCompile(`(?i)\bline\s+\d+\b`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// NormalizeQuery drops file:line and "line N" tokens so the same issue at a
// different position still matches.
func NormalizeQuery(text string) string {
	text = fileLinePattern.ReplaceAllString(text, " ")
	text = lineNoPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

func (a *Analyzer) Analyze(ctx context.Context, asm model.Assessment, f model.Finding, local []model.Finding, focus string) Result {
	scope := memory.Scope{AssessmentID: asm.ID, Mode: asm.Mode, RepoURL: asm.RepoURL, TargetURL: asm.TargetURL}
	query := fmt.Sprintf("%s vulnerability %s %s", f.Category, NormalizeQuery(f.Title), NormalizeQuery(f.Description))

	var memResults []map[string]any
	if a.mem != nil {
		memResults = a.mem.Search(ctx, query, memoryLimit, scope.Tags()).Results
	}

	if a.llm == nil {
		return fallback(asm, f, memResults, local, "GEMINI_API_KEY missing")
	}
	text, err := a.llm.Generate(ctx, prompt(asm, f, memResults, local, focus))
	if err == nil {
		var res Result
		if res, err = parse(text); err == nil {
			res.MemorySimilarResultsCount, res.MemorySimilarResults = similar(memResults, local)
			return res
		}
	}
	a.log.Warn("analysis fell back", "assessment_id", asm.ID, "finding_id", f.ID, "err", err)
	return fallback(asm, f, memResults, local, err.Error())
}

func parse(text string) (Result, error) {
	doc, err := schemas.Decode([]byte(llm.StripFences(text)))
	if err != nil {
		return Result{}, fmt.Errorf("parse model output: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Result{}, errors.New("model output is not an object")
	}
	if err := schemas.Validate(schemas.Analysis, obj); err != nil {
		return Result{}, fmt.Errorf("model output: %w", err)
	}
	res := Result{
		AnalysisSource:    SourceGemini,
		Summary:           obj["summary"].(string),
		Impact:            obj["impact"].(string),
		PossibleRootCause: obj["possible_root_cause"].(string),
		ModeGuidance:      obj["mode_guidance"].(string),
		WhereToFix:        obj["where_to_fix"],
		Actions:           []string{},
	}
	for _, v := range obj["actions"].([]any) {
		res.Actions = append(res.Actions, v.(string))
	}
	return res, nil
}

var modeGuidance = map[model.Mode]string{
	model.ModeLightweight: "Patch the vulnerable code path directly, add tests that assert the fix, and rerun the lightweight scan.",
	model.ModeRobust:      "Harden endpoint behavior and the auth and input validation controls around it, then rerun the robust scan to confirm the issue is no longer exploitable.",
}

func fallback(asm model.Assessment, f model.Finding, mem []map[string]any, local []model.Finding, reason string) Result {
	count, merged := similar(mem, local)
	return Result{
		AnalysisSource:    SourceFallback,
		Error:             reason,
		Summary:           f.Description,
		Impact:            fmt.Sprintf("Severity is '%s'. Category is '%s'.", f.Severity, f.Category),
		PossibleRootCause: "Insufficient input validation, unsafe defaults, or missing authorization checks in the affected code path.",
		ModeGuidance:      modeGuidance[asm.Mode],
		WhereToFix:        WhereToFix(asm.Mode, f),
		Actions: []string{
			"Apply remediation: " + f.Remediation,
			"Add regression test coverage for this vulnerability scenario.",
			"Re-run assessment and verify finding no longer appears.",
		},
		MemorySimilarResultsCount: count,
		MemorySimilarResults:      merged,
	}
}

// WhereToFix points at code for lightweight findings and at the endpoint and
// agent for robust ones.
func WhereToFix(mode model.Mode, f model.Finding) map[string]any {
	loc := f.Location
	if loc == nil {
		loc = &model.Location{}
	}
	if mode == model.ModeLightweight {
		return map[string]any{
			"file":    nullIfEmpty(loc.File),
			"line":    nullIfZero(loc.Line),
			"snippet": nullIfEmpty(loc.Snippet),
		}
	}
	endpoint := ""
	if u, ok := f.Evidence["url"].(string); ok {
		endpoint = u
	}
	if endpoint == "" {
		endpoint = loc.URL
	}
	return map[string]any{
		"endpoint": nullIfEmpty(endpoint),
		"agent":    nullIfEmpty(f.Agent),
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// similar merges the top three memory hits with the two newest local findings.
func similar(mem []map[string]any, local []model.Finding) (int, []any) {
	merged := []any{}
	for i, m := range mem {
		if i == 3 {
			break
		}
		merged = append(merged, m)
	}
	for i, f := range local {
		if i == 2 {
			break
		}
		merged = append(merged, summarize(f))
	}
	return len(mem) + len(local), merged
}

func summarize(f model.Finding) map[string]any {
	return map[string]any{
		"id":            f.ID,
		"assessment_id": f.AssessmentID,
		"severity":      f.Severity,
		"category":      f.Category,
		"title":         f.Title,
		"location":      f.Location,
		"created_at":    f.CreatedAt,
	}
}

func asJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func prompt(asm model.Assessment, f model.Finding, mem []map[string]any, local []model.Finding, focus string) string {
	if len(mem) > 3 {
		mem = mem[:3]
	}
	summaries := make([]map[string]any, 0, 5)
	for i, l := range local {
		if i == 5 {
			break
		}
		summaries = append(summaries, summarize(l))
	}
	where := "where_to_fix should name the file, line and offending snippet."
	if asm.Mode == model.ModeRobust {
		where = "where_to_fix should name the endpoint, the request behavior and the defensive control to add."
	}
	return fmt.Sprintf(`You are an application security engineer. Analyze this vulnerability and answer with JSON only.

Assessment mode: %s
Assessment id: %s
Repo URL: %s
Target URL: %s

Finding:
%s

Reviewer focus:
%s

Similar historical findings:
%s

Other findings in the same category:
%s

Return one JSON object with exactly these keys: summary, impact, possible_root_cause, mode_guidance, where_to_fix, actions.
actions is an array of 3 to 6 short, concrete steps. %s
`,
		asm.Mode, asm.ID, asm.RepoURL, asm.TargetURL,
		asJSON(map[string]any{
			"id":          f.ID,
			"severity":    f.Severity,
			"category":    f.Category,
			"title":       f.Title,
			"description": f.Description,
			"location":    f.Location,
			"evidence":    f.Evidence,
			"remediation": f.Remediation,
			"agent":       f.Agent,
		}),
		focus, asJSON(mem), asJSON(summaries), where)
}
