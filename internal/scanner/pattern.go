package scanner

import (
	"context"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
)

// Pattern flags risky code constructs line by line.
type Pattern struct {
	rules []Rule
}

func NewPattern(rules []Rule) *Pattern { return &Pattern{rules: rules} }

func (p *Pattern) Name() string { return PatternName }

func (p *Pattern) Scan(ctx context.Context, files []model.File, _ model.ProjectInfo) ([]model.Finding, error) {
	return matchLines(ctx, files, p.rules, false), nil
}

// matchLines reports at most one finding per rule per line. With redact set
// the matched text is masked in both snippet and evidence.
func matchLines(ctx context.Context, files []model.File, rules []Rule, redact bool) []model.Finding {
	var out []model.Finding
	for _, f := range files {
		if ctx.Err() != nil {
			return out
		}
		var active []*Rule
		for i := range rules {
			if rules[i].appliesTo(f.Path) {
				active = append(active, &rules[i])
			}
		}
		if len(active) == 0 {
			continue
		}
		for n, line := range strings.Split(f.Content, "\n") {
			for _, r := range active {
				m := r.re.FindString(line)
				if m == "" || ignored(line, r.Ignore) {
					continue
				}
				text := line
				evidence := map[string]any{"rule": r.ID}
				if redact {
					masked := mask(m)
					text = strings.Replace(line, m, masked, 1)
					evidence["match"] = masked
				}
				out = append(out, model.Finding{
					Severity:    r.severity,
					Category:    r.Category,
					Title:       r.Title,
					Description: r.Description,
					Remediation: r.Remediation,
					Location:    &model.Location{File: f.Path, Line: n + 1, Snippet: snippet(text)},
					Evidence:    evidence,
				})
			}
		}
	}
	return out
}

func ignored(line string, markers []string) bool {
	lower := strings.ToLower(line)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// mask keeps a short prefix so the secret can be identified and rotated.
func mask(s string) string {
	r := []rune(s)
	keep := 4
	if len(r) <= keep*2 {
		keep = 1
	}
	return string(r[:keep]) + strings.Repeat("*", 8)
}
