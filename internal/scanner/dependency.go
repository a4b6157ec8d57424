package scanner

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/yourorg/vibecheck/internal/model"
)

// Dependency matches declared dependency versions against the advisory pack
// and flags unpinned declarations.
type Dependency struct {
	byName map[string][]Advisory
}

func NewDependency(advisories []Advisory) *Dependency {
	d := &Dependency{byName: make(map[string][]Advisory)}
	for _, a := range advisories {
		if a.fixed == nil {
			a.fixed, _ = parseVersion(a.Fixed)
		}
		key := strings.ToLower(a.Package)
		d.byName[key] = append(d.byName[key], a)
	}
	return d
}

func (d *Dependency) Name() string { return DependencyName }

func (d *Dependency) Scan(ctx context.Context, _ []model.File, info model.ProjectInfo) ([]model.Finding, error) {
	var out []model.Finding
	for _, name := range slices.Sorted(maps.Keys(info.Dependencies)) {
		if ctx.Err() != nil {
			break
		}
		declared := info.Dependencies[name]
		if unpinned(declared) {
			out = append(out, model.Finding{
				Severity:    model.SeverityLow,
				Category:    "unpinned_dependency",
				Title:       fmt.Sprintf("Unpinned dependency %s", name),
				Description: fmt.Sprintf("%s is declared without a version constraint, so builds can silently pick up a compromised or breaking release.", name),
				Remediation: fmt.Sprintf("Pin %s to a reviewed version and commit a lock file.", name),
				Evidence:    map[string]any{"package": name, "declared": declared},
			})
			continue
		}
		v, ok := parseVersion(declared)
		if !ok {
			continue
		}
		eco := ecosystemOf(info, name)
		for _, a := range d.byName[strings.ToLower(name)] {
			if eco != "" && a.Ecosystem != eco {
				continue
			}
			if a.fixed == nil || !v.LessThan(a.fixed) {
				continue
			}
			out = append(out, model.Finding{
				Severity:    a.severity,
				Category:    "vulnerable_dependency",
				Title:       fmt.Sprintf("%s %s is affected by %s", name, declared, a.Advisory),
				Description: fmt.Sprintf("%s Versions of %s before %s are affected.", a.Summary, name, a.Fixed),
				Remediation: fmt.Sprintf("Upgrade %s to %s or later.", name, a.Fixed),
				Evidence: map[string]any{
					"package":   name,
					"declared":  declared,
					"fixed":     a.Fixed,
					"advisory":  a.Advisory,
					"ecosystem": a.Ecosystem,
				},
			})
		}
	}
	return out, nil
}

func unpinned(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "", "*", "latest", "x":
		return true
	}
	return false
}

var pepPrerelease = regexp.MustCompile(`^(v?\d+(?:\.\d+)*)((?:a|b|c|rc|alpha|beta|pre|dev)\.?\d*)$`)

// parseVersion reads the lower bound of a declared constraint such as
// ^4.17.15, ~=2.0, >=1.2,<2 or v1.9.1. PEP 440 pre-releases (2.0rc1) are
// rewritten to semver form so they sort below the release.
func parseVersion(v string) (*semver.Version, bool) {
	s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(v), "^~<>=!"))
	if i := strings.IndexAny(s, ", |"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return nil, false
	}
	s = pepPrerelease.ReplaceAllString(s, "$1-$2")
	ver, err := semver.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return ver, true
}

// ecosystemOf falls back to the project language when the manifest that
// declared name is unknown. An empty result matches every advisory.
func ecosystemOf(info model.ProjectInfo, name string) string {
	if eco := info.Ecosystems[name]; eco != "" {
		return eco
	}
	return languageEcosystems[info.Language]
}

var languageEcosystems = map[string]string{
	"javascript": "npm",
	"typescript": "npm",
	"python":     "pypi",
	"go":         "go",
	"rust":       "crates",
}
