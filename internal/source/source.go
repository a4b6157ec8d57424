// Package source resolves the file set of a lightweight assessment: a
// shallow clone of a remote repository or an inline file list.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/model"
)

// MaxFileChars bounds a single file; larger files are skipped.
const MaxFileChars = 100_000

var skipDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "__pycache__": {}, ".next": {}, ".nuxt": {},
	"dist": {}, "build": {}, "venv": {}, ".venv": {}, "vendor": {}, "target": {},
}

var allowedExts = map[string]struct{}{
	".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {}, ".java": {}, ".go": {}, ".rs": {},
	".rb": {}, ".php": {}, ".html": {}, ".vue": {}, ".svelte": {}, ".sql": {}, ".sh": {}, ".bash": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {}, ".cfg": {}, ".env": {},
	".example": {}, ".local": {}, ".development": {}, ".production": {},
}

var allowedNames = map[string]struct{}{
	"Dockerfile": {}, "docker-compose.yml": {}, "docker-compose.yaml": {}, ".gitignore": {},
	".dockerignore": {}, "Makefile": {}, "Procfile": {}, "nginx.conf": {}, "next.config.js": {},
	"next.config.mjs": {}, "vite.config.ts": {}, "vite.config.js": {}, "webpack.config.js": {},
	"tsconfig.json": {}, "pyproject.toml": {}, "setup.py": {}, "setup.cfg": {}, "requirements.txt": {},
	"package.json": {}, "package-lock.json": {}, "Cargo.toml": {}, "go.mod": {}, "go.sum": {}, "Gemfile": {},
	".env": {},
}

// Allowed reports whether a path passes the code/config allow-list.
func Allowed(p string) bool {
	name := path.Base(p)
	if _, ok := allowedNames[name]; ok {
		return true
	}
	if strings.HasPrefix(name, ".env.") {
		return true
	}
	_, ok := allowedExts[path.Ext(name)]
	return ok
}

// Excluded reports whether p matches any of the caller-supplied globs.
func Excluded(p string, globs []string) bool {
	for _, g := range globs {
		if g == "" {
			continue
		}
		if ok, err := doublestar.Match(g, p); err == nil && ok {
			return true
		}
	}
	return false
}

// ReadDir walks root and returns allow-listed files, relative slash paths,
// in walk order. Unreadable and oversized files are skipped.
func ReadDir(root string, exclude []string) ([]model.File, error) {
	var files []model.File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if p == root {
				return nil
			}
			if _, skip := skipDirs[d.Name()]; skip || Excluded(rel+"/", exclude) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !Allowed(rel) || Excluded(rel, exclude) {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		content := toText(data)
		if utf8.RuneCountInString(content) > MaxFileChars {
			return nil
		}
		files = append(files, model.File{Path: rel, Content: content})
		return nil
	})
	return files, err
}

// FilterInline applies the size bound to an inline file list without
// mutating it.
func FilterInline(in []model.File) []model.File {
	out := make([]model.File, 0, len(in))
	for _, f := range in {
		if f.Path == "" || utf8.RuneCountInString(f.Content) > MaxFileChars {
			continue
		}
		out = append(out, f)
	}
	return out
}

// toText drops invalid UTF-8 sequences.
func toText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}

// Acquirer clones repositories into per-assessment working directories
// under Root.
type Acquirer struct {
	Root    string
	Timeout time.Duration
	Git     string
}

func NewAcquirer(root string, timeout time.Duration) *Acquirer {
	return &Acquirer{Root: root, Timeout: timeout, Git: "git"}
}

func (a *Acquirer) Dir(assessmentID string) string {
	return filepath.Join(a.Root, assessmentID)
}

// Fetch clones repoURL shallowly and reads its files.
func (a *Acquirer) Fetch(ctx context.Context, repoURL, assessmentID string, exclude []string) ([]model.File, error) {
	dir := a.Dir(assessmentID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset clone dir: %w", err)
	}
	if err := os.MkdirAll(a.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create clone root: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, a.Git, "clone", "--depth", "1", "--", repoURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.CloneFailed(repoURL, fmt.Sprintf("Clone timed out after %d seconds", int(a.Timeout.Seconds())))
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, apperr.CloneFailed(repoURL, detail)
	}

	files, err := ReadDir(dir, exclude)
	if err != nil {
		return nil, fmt.Errorf("read clone: %w", err)
	}
	return files, nil
}

// Cleanup removes the assessment's working directory.
func (a *Acquirer) Cleanup(assessmentID string) error {
	return os.RemoveAll(a.Dir(assessmentID))
}
