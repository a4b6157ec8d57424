package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/muhammadmuzzammil1998/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/vibecheck/internal/model"
)

// Config inspects deployment and framework configuration files.
type Config struct{}

func NewConfig() *Config { return &Config{} }

func (c *Config) Name() string { return ConfigName }

var (
	djangoDebug    = regexp.MustCompile(`^\s*DEBUG\s*=\s*True\b`)
	djangoHosts    = regexp.MustCompile(`^\s*ALLOWED_HOSTS\s*=\s*\[\s*["']\*["']`)
	dockerFrom     = regexp.MustCompile(`(?i)^\s*FROM\s+(?:--platform=\S+\s+)?(\S+)`)
	dockerUser     = regexp.MustCompile(`(?i)^\s*USER\s+(\S+)`)
	composeNames   = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}
	envIgnoreProbe = []string{".env", ".env.local", ".env.production"}
)

func (c *Config) Scan(ctx context.Context, files []model.File, info model.ProjectInfo) ([]model.Finding, error) {
	var out []model.Finding
	envCommitted := false
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		name := strings.ToLower(base(f.Path))
		switch {
		case isEnvFile(name):
			envCommitted = true
			out = append(out, envFileFinding(f.Path))
		case name == "dockerfile" || strings.HasSuffix(name, ".dockerfile"):
			out = append(out, scanDockerfile(f)...)
		case slices.Contains(composeNames, name):
			out = append(out, scanCompose(f)...)
		case name == "settings.py":
			out = append(out, scanDjangoSettings(f)...)
		case name == "tsconfig.json":
			out = append(out, scanTSConfig(f)...)
		}
	}
	if !envCommitted && info.HasGitignore && len(info.Dependencies) > 0 && !ignoresEnv(info.GitignoreEntries) {
		out = append(out, model.Finding{
			Severity:    model.SeverityInfo,
			Category:    "sensitive_file",
			Title:       ".gitignore does not exclude environment files",
			Description: "No .gitignore entry matches .env, so a local environment file with credentials can be committed by accident.",
			Remediation: "Add .env and .env.* to .gitignore.",
			Location:    &model.Location{File: ".gitignore"},
		})
	}
	return out, nil
}

func isEnvFile(name string) bool {
	if name != ".env" && !strings.HasPrefix(name, ".env.") {
		return false
	}
	return !isExampleFile(name)
}

func envFileFinding(p string) model.Finding {
	return model.Finding{
		Severity:    model.SeverityHigh,
		Category:    "sensitive_file",
		Title:       "Environment file committed to repository",
		Description: fmt.Sprintf("%s is part of the source tree. Environment files usually hold database URLs, API keys and signing secrets.", p),
		Remediation: "Remove the file from version control, rotate every value it contained and add it to .gitignore.",
		Location:    &model.Location{File: p},
	}
}

func ignoresEnv(entries []string) bool {
	for _, e := range entries {
		pattern := strings.TrimPrefix(strings.TrimSpace(e), "/")
		if strings.HasPrefix(pattern, "!") {
			continue
		}
		if !strings.Contains(pattern, "/") {
			pattern = "**/" + pattern
		}
		for _, probe := range envIgnoreProbe {
			if ok, _ := doublestar.Match(pattern, probe); ok {
				return true
			}
		}
	}
	return false
}

func scanDockerfile(f model.File) []model.Finding {
	var out []model.Finding
	lastUser := ""
	fromLine := 0
	for n, line := range strings.Split(f.Content, "\n") {
		if m := dockerFrom.FindStringSubmatch(line); m != nil {
			fromLine = n + 1
			lastUser = ""
			image := m[1]
			if image != "scratch" && !strings.Contains(image, "@") && (!hasTag(image) || strings.HasSuffix(image, ":latest")) {
				out = append(out, model.Finding{
					Severity:    model.SeverityLow,
					Category:    "container_security",
					Title:       "Base image not pinned",
					Description: fmt.Sprintf("The image %s floats with upstream releases, so rebuilds can pull unreviewed changes.", image),
					Remediation: "Pin the base image to a specific version tag or digest.",
					Location:    &model.Location{File: f.Path, Line: n + 1, Snippet: snippet(line)},
				})
			}
		}
		if m := dockerUser.FindStringSubmatch(line); m != nil {
			lastUser = m[1]
		}
	}
	if fromLine > 0 && (lastUser == "" || lastUser == "root" || lastUser == "0") {
		out = append(out, model.Finding{
			Severity:    model.SeverityMedium,
			Category:    "container_security",
			Title:       "Container runs as root",
			Description: "The final image stage never switches to an unprivileged user, so a compromised process has root inside the container.",
			Remediation: "Create a dedicated user and add a USER instruction to the final stage.",
			Location:    &model.Location{File: f.Path, Line: fromLine},
		})
	}
	return out
}

// hasTag ignores a registry port such as localhost:5000/app.
func hasTag(image string) bool {
	last := image[strings.LastIndex(image, "/")+1:]
	return strings.Contains(last, ":")
}

type composeFile struct {
	Services map[string]struct {
		Privileged  bool   `yaml:"privileged"`
		NetworkMode string `yaml:"network_mode"`
	} `yaml:"services"`
}

func scanCompose(f model.File) []model.Finding {
	var doc composeFile
	if err := yaml.Unmarshal([]byte(f.Content), &doc); err != nil {
		return nil
	}
	var out []model.Finding
	for _, name := range slices.Sorted(maps.Keys(doc.Services)) {
		svc := doc.Services[name]
		if svc.Privileged {
			out = append(out, model.Finding{
				Severity:    model.SeverityHigh,
				Category:    "container_security",
				Title:       fmt.Sprintf("Service %s runs privileged", name),
				Description: "Privileged containers get every kernel capability and device on the host, so a container escape is trivial.",
				Remediation: "Drop privileged: true and grant only the specific capabilities the service needs.",
				Location:    &model.Location{File: f.Path},
				Evidence:    map[string]any{"service": name},
			})
		}
		if svc.NetworkMode == "host" {
			out = append(out, model.Finding{
				Severity:    model.SeverityMedium,
				Category:    "container_security",
				Title:       fmt.Sprintf("Service %s uses host networking", name),
				Description: "Host networking removes network isolation and exposes every listening port of the service on the host.",
				Remediation: "Use a bridge network and publish only the required ports.",
				Location:    &model.Location{File: f.Path},
				Evidence:    map[string]any{"service": name},
			})
		}
	}
	return out
}

func scanDjangoSettings(f model.File) []model.Finding {
	var out []model.Finding
	for n, line := range strings.Split(f.Content, "\n") {
		switch {
		case djangoDebug.MatchString(line):
			out = append(out, model.Finding{
				Severity:    model.SeverityMedium,
				Category:    "debug_enabled",
				Title:       "Django DEBUG enabled",
				Description: "With DEBUG on, error pages expose settings, SQL and stack traces to any visitor.",
				Remediation: "Read DEBUG from the environment and default it to False.",
				Location:    &model.Location{File: f.Path, Line: n + 1, Snippet: snippet(line)},
			})
		case djangoHosts.MatchString(line):
			out = append(out, model.Finding{
				Severity:    model.SeverityMedium,
				Category:    "host_header",
				Title:       "ALLOWED_HOSTS accepts any host",
				Description: "A wildcard ALLOWED_HOSTS disables Host header validation, enabling cache poisoning and password-reset link hijacking.",
				Remediation: "List the exact hostnames the application serves.",
				Location:    &model.Location{File: f.Path, Line: n + 1, Snippet: snippet(line)},
			})
		}
	}
	return out
}

func scanTSConfig(f model.File) []model.Finding {
	var cfg struct {
		CompilerOptions struct {
			Strict *bool `json:"strict"`
		} `json:"compilerOptions"`
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(f.Content)), &cfg); err != nil {
		return nil
	}
	if cfg.CompilerOptions.Strict == nil || *cfg.CompilerOptions.Strict {
		return nil
	}
	return []model.Finding{{
		Severity:    model.SeverityInfo,
		Category:    "type_safety",
		Title:       "TypeScript strict mode disabled",
		Description: "Without strict checks, nullable and untyped values flow into security-sensitive code unnoticed.",
		Remediation: "Enable \"strict\": true in compilerOptions.",
		Location:    &model.Location{File: f.Path},
	}}
}
