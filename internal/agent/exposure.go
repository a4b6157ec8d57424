package agent

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/yourorg/vibecheck/internal/model"
)

// Exposure requests well-known sensitive paths. A hit needs a 200 and a body
// that looks like the real file, so catch-all pages do not count.
type Exposure struct{ base }

type exposedPath struct {
	path      string
	signature *regexp.Regexp
	severity  model.Severity
	title     string
	depth     Depth
}

var exposedPaths = []exposedPath{
	{"/.env", regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]*=`), model.SeverityCritical, "Environment file publicly accessible", DepthQuick},
	{"/.git/config", regexp.MustCompile(`\[core\]`), model.SeverityHigh, "Git repository metadata publicly accessible", DepthQuick},
	{"/.git/HEAD", regexp.MustCompile(`^ref: refs/`), model.SeverityHigh, "Git HEAD publicly accessible", DepthStandard},
	{"/server-status", regexp.MustCompile(`Apache Server Status`), model.SeverityMedium, "Apache server-status page exposed", DepthStandard},
	{"/phpinfo.php", regexp.MustCompile(`PHP Version`), model.SeverityMedium, "phpinfo page exposed", DepthStandard},
	{"/.DS_Store", regexp.MustCompile(`Bud1`), model.SeverityLow, "macOS .DS_Store file exposed", DepthStandard},
	{"/actuator/env", regexp.MustCompile(`propertySources`), model.SeverityHigh, "Spring actuator environment endpoint exposed", DepthStandard},
	{"/.env.local", regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]*=`), model.SeverityCritical, "Local environment file publicly accessible", DepthDeep},
	{"/.env.production", regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]*=`), model.SeverityCritical, "Production environment file publicly accessible", DepthDeep},
	{"/docker-compose.yml", regexp.MustCompile(`(?m)^services:`), model.SeverityMedium, "docker-compose file publicly accessible", DepthDeep},
	{"/.aws/credentials", regexp.MustCompile(`aws_access_key_id`), model.SeverityCritical, "AWS credentials file publicly accessible", DepthDeep},
	{"/debug/pprof/", regexp.MustCompile(`Types of profiles available`), model.SeverityMedium, "Go pprof endpoint exposed", DepthDeep},
}

func (a *Exposure) Run(ctx context.Context) error {
	attempted, failed := 0, 0
	var lastErr error
	for _, e := range exposedPaths {
		if !a.cfg.Depth.atLeast(e.depth) {
			continue
		}
		attempted++
		resp, err := a.request(ctx, http.MethodGet, e.path)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			lastErr = err
			continue
		}
		if resp.Status != http.StatusOK || !e.signature.Match(resp.Body) {
			continue
		}
		if err := a.record(model.Finding{
			Severity:    e.severity,
			Category:    "sensitive_file_exposure",
			Title:       e.title,
			Description: fmt.Sprintf("%s is served to unauthenticated clients and its content matches the real file format. It can leak credentials, source layout or internal configuration.", e.path),
			Remediation: fmt.Sprintf("Block %s at the web server or remove it from the deployed artifact, then rotate any secrets it exposed.", e.path),
			Location:    at(resp),
			Evidence:    map[string]any{"status": resp.Status, "bytes": len(resp.Body)},
		}); err != nil {
			return err
		}
	}
	if attempted > 0 && failed == attempted {
		return fmt.Errorf("every probe failed: %w", lastErr)
	}
	return nil
}
