// Package scanner holds the static-analysis capabilities run in lightweight
// mode. Each scanner is stateless and only sees the file set and the derived
// project info.
package scanner

import (
	"context"
	"path"
	"strings"

	"github.com/yourorg/vibecheck/internal/lifecycle"
	"github.com/yourorg/vibecheck/internal/model"
)

// Producer tags stamped on findings that do not name their own agent.
const (
	DependencyName = "dependency_scanner"
	PatternName    = "pattern_scanner"
	SecretName     = "secret_scanner"
	ConfigName     = "config_scanner"
	ContextualName = "gemini_llm"
)

const maxSnippet = 200

// Scanner inspects a file set. Recoverable problems such as a malformed
// manifest are skipped; an error return means the scanner itself broke.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, files []model.File, info model.ProjectInfo) ([]model.Finding, error)
}

// Static returns the rule-driven scanners in their fixed run order.
func Static() []Scanner {
	return []Scanner{
		NewDependency(defaultRules.advisories),
		NewPattern(defaultRules.patterns),
		NewSecret(defaultRules.secrets),
		NewConfig(),
	}
}

func snippet(line string) string {
	return lifecycle.Truncate(strings.TrimSpace(line), maxSnippet)
}

func ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

func base(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}
