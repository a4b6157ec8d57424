package agent

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
)

// Methods looks for dangerous HTTP methods advertised or accepted by the target.
type Methods struct{ base }

var riskyMethods = map[string]model.Severity{
	http.MethodTrace:  model.SeverityMedium,
	http.MethodPut:    model.SeverityMedium,
	http.MethodDelete: model.SeverityMedium,
	"PROPFIND":        model.SeverityLow,
	"CONNECT":         model.SeverityLow,
}

func (a *Methods) Run(ctx context.Context) error {
	paths := []string{"/"}
	if a.cfg.Depth.atLeast(DepthDeep) {
		paths = append(paths, "/api", "/admin")
	}
	for _, p := range paths {
		resp, err := a.request(ctx, http.MethodOptions, p)
		if err != nil {
			return err
		}
		allowed := parseAllow(resp.Header.Get("Allow"))
		if len(allowed) == 0 {
			allowed = parseAllow(resp.Header.Get("Access-Control-Allow-Methods"))
		}
		for _, m := range allowed {
			sev, risky := riskyMethods[m]
			if !risky {
				continue
			}
			if err := a.record(model.Finding{
				Severity:    sev,
				Category:    "http_methods",
				Title:       fmt.Sprintf("HTTP %s advertised on %s", m, p),
				Description: fmt.Sprintf("The server lists %s as an allowed method. Unneeded write or diagnostic methods widen the attack surface.", m),
				Remediation: fmt.Sprintf("Disable %s for this route unless the application depends on it, and require authentication where it does.", m),
				Location:    at(resp),
				Evidence:    map[string]any{"allow": allowed},
			}); err != nil {
				return err
			}
		}
	}
	if !a.cfg.Depth.atLeast(DepthStandard) {
		return nil
	}
	resp, err := a.request(ctx, http.MethodTrace, "/")
	if err != nil {
		return err
	}
	if resp.Status == http.StatusOK && strings.Contains(string(resp.Body), "TRACE /") {
		return a.record(model.Finding{
			Severity:    model.SeverityMedium,
			Category:    "http_methods",
			Title:       "HTTP TRACE echoes requests",
			Description: "TRACE reflects the full request including headers, which enables cross-site tracing to steal cookies marked HttpOnly.",
			Remediation: "Disable TRACE at the web server or load balancer.",
			Location:    at(resp),
			Evidence:    map[string]any{"status": resp.Status},
		})
	}
	return nil
}

func parseAllow(v string) []string {
	var out []string
	for _, m := range strings.Split(v, ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}
