package scanner

import (
	"context"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
)

// Secret looks for committed credentials. Example env files are skipped.
type Secret struct {
	rules []Rule
}

func NewSecret(rules []Rule) *Secret { return &Secret{rules: rules} }

func (s *Secret) Name() string { return SecretName }

func (s *Secret) Scan(ctx context.Context, files []model.File, _ model.ProjectInfo) ([]model.Finding, error) {
	candidates := make([]model.File, 0, len(files))
	for _, f := range files {
		if isExampleFile(f.Path) {
			continue
		}
		candidates = append(candidates, f)
	}
	return matchLines(ctx, candidates, s.rules, true), nil
}

func isExampleFile(p string) bool {
	b := strings.ToLower(base(p))
	for _, suffix := range []string{".example", ".sample", ".template", ".dist"} {
		if strings.HasSuffix(b, suffix) {
			return true
		}
	}
	return false
}
