// Package introspect derives language, framework and dependency metadata
// from a file set. Detect is pure: it performs no I/O and never mutates its
// input.
package introspect

import (
	"bufio"
	"encoding/json"
	"path"
	"strings"

	"github.com/muhammadmuzzammil1998/jsonc"

	"github.com/yourorg/vibecheck/internal/model"
)

const Unknown = "unknown"

type manifest struct {
	name      string
	ecosystem string
	parse     func(info *model.ProjectInfo, content string) bool
}

// manifests in priority order. parse reports whether the file was usable;
// the first usable language-defining manifest decides the language.
var manifests = []manifest{
	{"package.json", "npm", parsePackageJSON},
	{"requirements.txt", "pypi", parseRequirements},
	{"pyproject.toml", "pypi", parsePyproject},
	{"go.mod", "go", parseGoMod},
	{"Cargo.toml", "crates", parseCargo},
}

var jsFrameworks = []struct{ dep, name string }{
	{"next", "nextjs"},
	{"express", "express"},
	{"react", "react"},
	{"vue", "vue"},
	{"@angular/core", "angular"},
	{"svelte", "svelte"},
	{"fastify", "fastify"},
	{"hono", "hono"},
}

var pyFrameworks = []struct{ dep, name string }{
	{"flask", "flask"},
	{"django", "django"},
	{"fastapi", "fastapi"},
}

var goFrameworks = []struct{ dep, name string }{
	{"github.com/gin-gonic/gin", "gin"},
	{"github.com/labstack/echo/v4", "echo"},
	{"github.com/gofiber/fiber/v2", "fiber"},
	{"github.com/go-chi/chi/v5", "chi"},
}

var extLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".java": "java",
}

var requirementSeparators = []string{"==", ">=", "<=", "~=", "!="}

// Detect inspects manifests in priority order and falls back to the most
// frequent known file extension (ties broken by encounter order).
func Detect(files []model.File) model.ProjectInfo {
	info := model.ProjectInfo{Dependencies: map[string]string{}, Ecosystems: map[string]string{}}

	for _, m := range manifests {
		for _, f := range files {
			if !matches(f.Path, m.name) {
				continue
			}
			var scratch model.ProjectInfo
			scratch.Dependencies = map[string]string{}
			if !m.parse(&scratch, f.Content) {
				continue
			}
			for k, v := range scratch.Dependencies {
				if _, seen := info.Dependencies[k]; !seen {
					info.Dependencies[k] = v
					info.Ecosystems[k] = m.ecosystem
				}
			}
			if info.Language == "" {
				info.Language = scratch.Language
				info.Framework = scratch.Framework
			}
		}
	}

	for _, f := range files {
		if matches(f.Path, ".gitignore") {
			info.HasGitignore = true
			info.GitignoreEntries = append(info.GitignoreEntries, gitignoreEntries(f.Content)...)
		}
	}

	if info.Language == "" {
		info.Language = languageByExtension(files)
	}
	return info
}

func matches(p, name string) bool {
	return p == name || strings.HasSuffix(p, "/"+name)
}

func parsePackageJSON(info *model.ProjectInfo, content string) bool {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &pkg); err != nil {
		return false
	}
	info.Language = "javascript"
	for k, v := range pkg.DevDependencies {
		info.Dependencies[k] = v
	}
	for k, v := range pkg.Dependencies {
		info.Dependencies[k] = v
	}
	for _, fw := range jsFrameworks {
		if _, ok := info.Dependencies[fw.dep]; ok {
			info.Framework = fw.name
			break
		}
	}
	return true
}

func parseRequirements(info *model.ProjectInfo, content string) bool {
	info.Language = "python"
	for _, line := range lines(content) {
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		name, version := line, "*"
		for _, sep := range requirementSeparators {
			if before, after, ok := strings.Cut(line, sep); ok {
				name, version = strings.TrimSpace(before), strings.TrimSpace(after)
				break
			}
		}
		info.Dependencies[name] = version
	}
	info.Framework = pythonFramework(info.Dependencies)
	return true
}

func parsePyproject(info *model.ProjectInfo, content string) bool {
	info.Language = "python"
	for _, line := range lines(content) {
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), `"`)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if strings.ContainsAny(val, "0123456789.><=~^") {
			info.Dependencies[key] = val
		}
	}
	info.Framework = pythonFramework(info.Dependencies)
	return true
}

func parseGoMod(info *model.ProjectInfo, content string) bool {
	info.Language = "go"
	inBlock := false
	for _, line := range lines(content) {
		switch {
		case line == "require (":
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		case strings.HasPrefix(line, "require "):
			line = strings.TrimPrefix(line, "require ")
		case !inBlock:
			continue
		}
		line, _, _ = strings.Cut(line, "//")
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			info.Dependencies[fields[0]] = fields[1]
		}
	}
	for _, fw := range goFrameworks {
		if _, ok := info.Dependencies[fw.dep]; ok {
			info.Framework = fw.name
			break
		}
	}
	return true
}

func parseCargo(info *model.ProjectInfo, content string) bool {
	info.Language = "rust"
	inDeps := false
	for _, line := range lines(content) {
		if strings.HasPrefix(line, "[") {
			inDeps = line == "[dependencies]" || line == "[dev-dependencies]"
			continue
		}
		if !inDeps || line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "{") {
			val = inlineTableVersion(val)
		}
		info.Dependencies[strings.TrimSpace(key)] = strings.Trim(val, `"'`)
	}
	return true
}

// inlineTableVersion extracts version from `{ version = "1.0", ... }`.
func inlineTableVersion(v string) string {
	v = strings.Trim(v, "{} ")
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(k) == "version" {
			return strings.Trim(strings.TrimSpace(val), `"'`)
		}
	}
	return "*"
}

func pythonFramework(deps map[string]string) string {
	for _, fw := range pyFrameworks {
		for name := range deps {
			if strings.EqualFold(name, fw.dep) {
				return fw.name
			}
		}
	}
	return ""
}

func gitignoreEntries(content string) []string {
	var out []string
	for _, line := range lines(content) {
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out
}

func languageByExtension(files []model.File) string {
	counts := map[string]int{}
	var order []string
	for _, f := range files {
		lang, ok := extLanguages[path.Ext(f.Path)]
		if !ok {
			continue
		}
		if counts[lang] == 0 {
			order = append(order, lang)
		}
		counts[lang]++
	}
	best := Unknown
	bestN := 0
	for _, lang := range order {
		if counts[lang] > bestN {
			best, bestN = lang, counts[lang]
		}
	}
	return best
}

func lines(content string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		out = append(out, strings.TrimSpace(sc.Text()))
	}
	return out
}
