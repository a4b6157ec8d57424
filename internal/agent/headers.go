package agent

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
)

// Headers checks response hardening headers, version disclosure, cookie
// flags and verbose error pages.
type Headers struct{ base }

type headerCheck struct {
	header      string
	severity    model.Severity
	title       string
	description string
	remediation string
	httpsOnly   bool
}

var headerChecks = []headerCheck{
	{
		header:      "Content-Security-Policy",
		severity:    model.SeverityMedium,
		title:       "Missing Content-Security-Policy header",
		description: "Without a CSP the browser runs any injected script, so a single XSS flaw gives full control of the page.",
		remediation: "Send a Content-Security-Policy that restricts script sources, starting with default-src 'self'.",
	},
	{
		header:      "Strict-Transport-Security",
		severity:    model.SeverityMedium,
		title:       "Missing Strict-Transport-Security header",
		description: "Browsers may still contact the site over plain HTTP, leaving the first request open to downgrade and cookie theft.",
		remediation: "Send Strict-Transport-Security: max-age=31536000; includeSubDomains on HTTPS responses.",
		httpsOnly:   true,
	},
	{
		header:      "X-Frame-Options",
		severity:    model.SeverityLow,
		title:       "Missing clickjacking protection",
		description: "The page can be framed by any site, enabling clickjacking against authenticated users.",
		remediation: "Send X-Frame-Options: DENY or a CSP frame-ancestors directive.",
	},
	{
		header:      "X-Content-Type-Options",
		severity:    model.SeverityLow,
		title:       "Missing X-Content-Type-Options header",
		description: "Browsers may MIME-sniff responses and execute uploaded content as script.",
		remediation: "Send X-Content-Type-Options: nosniff.",
	},
	{
		header:      "Referrer-Policy",
		severity:    model.SeverityInfo,
		title:       "Missing Referrer-Policy header",
		description: "Full URLs, including tokens in query strings, leak to third parties through the Referer header.",
		remediation: "Send Referrer-Policy: strict-origin-when-cross-origin or stricter.",
	},
}

var (
	versionPattern = regexp.MustCompile(`\d+\.\d+`)
	stackPatterns  = regexp.MustCompile(`(Traceback \(most recent call last\)|at [\w$.]+ \(.*:\d+:\d+\)|java\.lang\.\w+Exception|Stack trace:|Whitelabel Error Page|SQLSTATE\[)`)
)

const missingPath = "/vibecheck-nonexistent-7f3a"

func (a *Headers) Run(ctx context.Context) error {
	resp, err := a.request(ctx, http.MethodGet, "/")
	if err != nil {
		return err
	}
	if err := a.checkHeaders(resp); err != nil {
		return err
	}
	if !a.cfg.Depth.atLeast(DepthStandard) {
		return nil
	}
	if err := a.checkCookies(resp); err != nil {
		return err
	}
	notFound, err := a.request(ctx, http.MethodGet, missingPath)
	if err != nil {
		return err
	}
	if m := stackPatterns.Find(notFound.Body); m != nil {
		if err := a.record(model.Finding{
			Severity:    model.SeverityMedium,
			Category:    "information_disclosure",
			Title:       "Error page exposes stack trace",
			Description: "A request for a missing page returned framework internals such as stack frames or SQL errors, which help attackers map the application.",
			Remediation: "Disable debug error pages in production and return a generic error body.",
			Location:    at(notFound),
			Evidence:    map[string]any{"status": notFound.Status, "marker": string(m)},
		}); err != nil {
			return err
		}
	}
	if !a.cfg.Depth.atLeast(DepthDeep) {
		return nil
	}
	for _, p := range []string{"/login", "/api"} {
		extra, err := a.request(ctx, http.MethodGet, p)
		if err != nil {
			return err
		}
		if err := a.checkCookies(extra); err != nil {
			return err
		}
	}
	return nil
}

func (a *Headers) checkHeaders(resp *probe.Response) error {
	https := strings.HasPrefix(resp.URL, "https://")
	for _, c := range headerChecks {
		if c.httpsOnly && !https {
			continue
		}
		if c.header == "X-Frame-Options" && strings.Contains(resp.Header.Get("Content-Security-Policy"), "frame-ancestors") {
			continue
		}
		if resp.Header.Get(c.header) != "" {
			continue
		}
		if err := a.record(model.Finding{
			Severity:    c.severity,
			Category:    "security_headers",
			Title:       c.title,
			Description: c.description,
			Remediation: c.remediation,
			Location:    at(resp),
			Evidence:    map[string]any{"header": c.header, "status": resp.Status},
		}); err != nil {
			return err
		}
	}
	if !https {
		if err := a.record(model.Finding{
			Severity:    model.SeverityMedium,
			Category:    "insecure_transport",
			Title:       "Target served over plain HTTP",
			Description: "Traffic, credentials and session cookies travel unencrypted between clients and the target.",
			Remediation: "Serve the application over HTTPS and redirect HTTP requests.",
			Location:    at(resp),
		}); err != nil {
			return err
		}
	}
	for _, h := range []string{"Server", "X-Powered-By", "X-AspNet-Version"} {
		v := resp.Header.Get(h)
		if v == "" || (h == "Server" && !versionPattern.MatchString(v)) {
			continue
		}
		if err := a.record(model.Finding{
			Severity:    model.SeverityLow,
			Category:    "information_disclosure",
			Title:       fmt.Sprintf("%s header discloses software version", h),
			Description: fmt.Sprintf("The response advertises %q, which lets attackers match the target against known vulnerabilities.", v),
			Remediation: fmt.Sprintf("Remove or genericise the %s header.", h),
			Location:    at(resp),
			Evidence:    map[string]any{"header": h, "value": v},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Headers) checkCookies(resp *probe.Response) error {
	https := strings.HasPrefix(resp.URL, "https://")
	for _, raw := range resp.Header.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(raw)
		if err != nil {
			continue
		}
		var missing []string
		if !c.HttpOnly {
			missing = append(missing, "HttpOnly")
		}
		if https && !c.Secure {
			missing = append(missing, "Secure")
		}
		if c.SameSite == 0 || c.SameSite == http.SameSiteDefaultMode {
			missing = append(missing, "SameSite")
		}
		if len(missing) == 0 {
			continue
		}
		if err := a.record(model.Finding{
			Severity:    model.SeverityMedium,
			Category:    "session_management",
			Title:       fmt.Sprintf("Cookie %s missing %s", c.Name, strings.Join(missing, ", ")),
			Description: "Cookies without these attributes can be read by injected script, sent over plain HTTP or attached to cross-site requests.",
			Remediation: "Set HttpOnly, Secure and SameSite=Lax or Strict on session cookies.",
			Location:    at(resp),
			Evidence:    map[string]any{"cookie": c.Name, "missing": missing},
		}); err != nil {
			return err
		}
	}
	return nil
}
