package agent

import (
	"context"
	"net/http"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
)

const probeOrigin = "https://evil.vibecheck.invalid"

// CORS sends cross-origin requests with a foreign Origin and inspects the
// Access-Control-Allow-* answer.
type CORS struct{ base }

func (a *CORS) Run(ctx context.Context) error {
	paths := []string{"/"}
	if a.cfg.Depth.atLeast(DepthStandard) {
		paths = append(paths, "/api")
	}
	if a.cfg.Depth.atLeast(DepthDeep) {
		paths = append(paths, "/api/v1", "/graphql")
	}
	for _, p := range paths {
		resp, err := a.request(ctx, http.MethodGet, p, probe.WithHeader("Origin", probeOrigin))
		if err != nil {
			return err
		}
		if err := a.inspect(resp, probeOrigin); err != nil {
			return err
		}
	}
	if !a.cfg.Depth.atLeast(DepthStandard) {
		return nil
	}
	resp, err := a.request(ctx, http.MethodGet, "/", probe.WithHeader("Origin", "null"))
	if err != nil {
		return err
	}
	return a.inspect(resp, "null")
}

func (a *CORS) inspect(resp *probe.Response, origin string) error {
	allow := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
	creds := strings.EqualFold(resp.Header.Get("Access-Control-Allow-Credentials"), "true")
	evidence := map[string]any{
		"origin":            origin,
		"allow_origin":      allow,
		"allow_credentials": creds,
	}
	var f model.Finding
	switch {
	case allow == "":
		return nil
	case allow == origin && origin == "null":
		f = model.Finding{
			Severity:    model.SeverityMedium,
			Title:       "CORS trusts the null origin",
			Description: "Sandboxed iframes and local files send Origin: null, so any site can obtain a trusted origin and read responses.",
		}
	case allow == origin && creds:
		f = model.Finding{
			Severity:    model.SeverityHigh,
			Title:       "CORS reflects arbitrary origins with credentials",
			Description: "The target echoes any Origin and allows credentials, so a malicious site can read authenticated responses on behalf of a logged-in user.",
		}
	case allow == origin:
		f = model.Finding{
			Severity:    model.SeverityMedium,
			Title:       "CORS reflects arbitrary origins",
			Description: "The target echoes any Origin, so every site can read its responses.",
		}
	case allow == "*":
		f = model.Finding{
			Severity:    model.SeverityLow,
			Title:       "CORS allows any origin",
			Description: "Access-Control-Allow-Origin is *, so any site can read unauthenticated responses from this endpoint.",
		}
	default:
		return nil
	}
	f.Category = "cors_misconfiguration"
	f.Remediation = "Validate Origin against an explicit allow-list and never combine a reflected origin with Access-Control-Allow-Credentials."
	f.Location = at(resp)
	f.Evidence = evidence
	return a.record(f)
}
