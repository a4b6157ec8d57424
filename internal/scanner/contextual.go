package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yourorg/vibecheck/internal/llm"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/schemas"
)

// ContextBudget caps the characters of source sent in one request.
const ContextBudget = 50_000

// priorityKeywords rank files for the context window; more hits sort first.
var priorityKeywords = []string{
	"route", "api", "auth", "login", "middleware", "db", "database", "config", "server", "app",
}

// Contextual asks a language model for issues regex rules cannot see. Every
// failure degrades to an empty result.
type Contextual struct {
	client llm.Client
	budget int
	log    *slog.Logger
}

func NewContextual(client llm.Client) *Contextual {
	return &Contextual{client: client, budget: ContextBudget, log: logging.New("scanner.contextual")}
}

func (c *Contextual) Name() string { return ContextualName }

func (c *Contextual) Scan(ctx context.Context, files []model.File, info model.ProjectInfo) ([]model.Finding, error) {
	if c.client == nil {
		return nil, nil
	}
	corpus, selected := buildCorpus(files, c.budget)
	if selected == 0 {
		c.log.Debug("no files selected", "total_files", len(files))
		return nil, nil
	}
	text, err := c.client.Generate(ctx, contextualPrompt(info, corpus))
	if err != nil {
		c.log.Warn("contextual scan failed", "model", c.client.Model(), "err", err)
		return nil, nil
	}
	out := parseContextual(text)
	c.log.Debug("contextual scan parsed", "selected_files", selected, "findings", len(out))
	return out, nil
}

// RankFiles orders files by how many priority keywords their path contains.
// Ties keep their input order.
func RankFiles(files []model.File) []model.File {
	ranked := make([]model.File, len(files))
	copy(ranked, files)
	score := func(p string) int {
		lower := strings.ToLower(p)
		n := 0
		for _, k := range priorityKeywords {
			if strings.Contains(lower, k) {
				n++
			}
		}
		return n
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i].Path) > score(ranked[j].Path)
	})
	return ranked
}

// buildCorpus stops at the first file that would overflow the budget.
func buildCorpus(files []model.File, budget int) (string, int) {
	var entries []string
	total := 0
	for _, f := range RankFiles(files) {
		entry := fmt.Sprintf("### %s\n```\n%s\n```\n", f.Path, f.Content)
		n := utf8.RuneCountInString(entry)
		if total+n > budget {
			break
		}
		entries = append(entries, entry)
		total += n
	}
	return strings.Join(entries, "\n"), len(entries)
}

func contextualPrompt(info model.ProjectInfo, corpus string) string {
	language := orUnknown(info.Language)
	framework := orUnknown(info.Framework)
	return fmt.Sprintf(`You are reviewing a %s/%s codebase for security vulnerabilities that line-based pattern matching misses.

Look for: broken access control and missing authorization on sensitive routes, business logic flaws and race conditions,
sensitive data returned by endpoints or leaked in error messages, misuse of %s security features (CSRF, sessions, cookies),
weak cryptography or predictable tokens, and missing validation or mass assignment on critical input.

Skip obvious injection sinks and hardcoded credentials, generic advice without code evidence, and test files.

Answer with a JSON array only. Each element has:
"severity": one of "critical", "high", "medium", "low", "info"
"category": short snake_case tag
"title": one line
"description": two or three sentences on the flaw and its impact
"location": {"file": "path", "line": number} when identifiable
"remediation": a concrete fix

Return [] when there is nothing to report.

Codebase:
%s`, language, framework, framework, corpus)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// parseContextual keeps only items that satisfy the finding-item schema and
// whose text fields are not blank. Text is trimmed before use.
func parseContextual(text string) []model.Finding {
	doc, err := schemas.Decode([]byte(llm.StripFences(text)))
	if err != nil {
		return nil
	}
	items, ok := doc.([]any)
	if !ok {
		return nil
	}
	var out []model.Finding
	for _, item := range items {
		if schemas.Validate(schemas.FindingItem, item) != nil {
			continue
		}
		m := item.(map[string]any)
		f := model.Finding{
			Severity:    model.Severity(m["severity"].(string)),
			Category:    strings.TrimSpace(m["category"].(string)),
			Title:       strings.TrimSpace(m["title"].(string)),
			Description: strings.TrimSpace(m["description"].(string)),
			Remediation: strings.TrimSpace(m["remediation"].(string)),
			Location:    looseLocation(m["location"]),
		}
		if f.Category == "" || f.Title == "" || f.Description == "" || f.Remediation == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func looseLocation(v any) *model.Location {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	loc := &model.Location{}
	if f, ok := m["file"].(string); ok {
		loc.File = f
	}
	switch line := m["line"].(type) {
	case json.Number:
		if n, err := line.Int64(); err == nil {
			loc.Line = int(n)
		} else if f, err := line.Float64(); err == nil {
			loc.Line = int(f)
		}
	case float64:
		loc.Line = int(line)
	case string:
		loc.Line, _ = strconv.Atoi(strings.TrimSpace(line))
	}
	if loc.File == "" && loc.Line == 0 {
		return nil
	}
	return loc
}
