// Package memory talks to the Supermemory semantic store. Findings are
// ingested under stable ids so repeat runs upsert instead of duplicating, and
// every call tolerates the service being down.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/model"
)

const DefaultBaseURL = "https://api.supermemory.ai"

// Scope says where a finding came from.
type Scope struct {
	AssessmentID string
	Mode         model.Mode
	RepoURL      string
	TargetURL    string
}

// Tags returns the scope filter tags: mode plus repo or target when known.
func (s Scope) Tags() []string {
	tags := []string{"mode:" + string(s.Mode)}
	if s.RepoURL != "" {
		tags = append(tags, "repo:"+s.RepoURL)
	}
	if s.TargetURL != "" {
		tags = append(tags, "target:"+s.TargetURL)
	}
	return tags
}

// Document is one memory as sent to the v3 endpoint.
type Document struct {
	Content       string         `json:"content"`
	CustomID      string         `json:"customId"`
	ContainerTags []string       `json:"containerTags"`
	Metadata      map[string]any `json:"metadata"`
}

type Results struct {
	Results []map[string]any `json:"results"`
	Enabled bool             `json:"enabled"`
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: trimVersion(baseURL),
		http:    &http.Client{Timeout: timeout},
		log:     logging.New("memory"),
	}
}

// trimVersion accepts base URLs configured with a trailing /v3 or /v4.
func trimVersion(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v3") || strings.HasSuffix(base, "/v4") {
		base = base[:len(base)-3]
	}
	return base
}

func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

// Fingerprint is the first 20 hex chars of sha256 over parts joined by "|".
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:20]
}

func locationString(loc *model.Location) string {
	if loc == nil {
		return ""
	}
	b, _ := json.Marshal(loc)
	return string(b)
}

// BuildDocument renders a finding as a memory. The custom id is stable across
// runs of the same scope.
func BuildDocument(scope Scope, f model.Finding) Document {
	title := f.Title
	if title == "" {
		title = "Untitled finding"
	}
	loc := locationString(f.Location)
	mode := string(scope.Mode)
	source := scope.RepoURL
	if source == "" {
		source = scope.TargetURL
	}
	if source == "" {
		source = "global"
	}
	id := fmt.Sprintf("vibecheck:%s:%s:%s", mode, Fingerprint(source),
		Fingerprint(mode, f.Category, string(f.Severity), title, loc))

	var b strings.Builder
	fmt.Fprintf(&b, "Finding: %s\n", title)
	fmt.Fprintf(&b, "Severity: %s\n", f.Severity)
	fmt.Fprintf(&b, "Category: %s\n", f.Category)
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Assessment ID: %s\n", scope.AssessmentID)
	fmt.Fprintf(&b, "Repo URL: %s\n", scope.RepoURL)
	fmt.Fprintf(&b, "Target URL: %s\n", scope.TargetURL)
	fmt.Fprintf(&b, "Location: %s\n", loc)
	fmt.Fprintf(&b, "Description: %s\n", f.Description)
	fmt.Fprintf(&b, "Remediation: %s\n", f.Remediation)

	tags := []string{
		"vibecheck",
		"security-finding",
		"mode:" + mode,
		"severity:" + string(f.Severity),
		"category:" + f.Category,
	}
	if scope.RepoURL != "" {
		tags = append(tags, "repo:"+scope.RepoURL)
	}
	if scope.TargetURL != "" {
		tags = append(tags, "target:"+scope.TargetURL)
	}
	return Document{
		Content:       b.String(),
		CustomID:      id,
		ContainerTags: tags,
		Metadata: map[string]any{
			"assessment_id": scope.AssessmentID,
			"source_scope":  source,
			"mode":          mode,
			"repo_url":      scope.RepoURL,
			"target_url":    scope.TargetURL,
			"severity":      string(f.Severity),
			"category":      f.Category,
			"title":         title,
			"location":      f.Location,
		},
	}
}

// IngestFinding upserts one finding. It is a no-op when disabled.
func (c *Client) IngestFinding(ctx context.Context, scope Scope, f model.Finding) error {
	if !c.Enabled() {
		return nil
	}
	doc := BuildDocument(scope, f)
	status, err := c.post(ctx, "/v4/memories", map[string]any{"memories": []Document{doc}}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		status, err = c.post(ctx, "/v3/memories", doc, nil)
		if err != nil {
			return err
		}
	}
	if status >= 300 {
		return fmt.Errorf("memory ingest: status %d", status)
	}
	return nil
}

// Search returns similar memories. Failures yield an empty result.
func (c *Client) Search(ctx context.Context, query string, limit int, tags []string) Results {
	if !c.Enabled() {
		return Results{Results: []map[string]any{}, Enabled: false}
	}
	payload := map[string]any{"q": query, "limit": limit}
	if len(tags) > 0 {
		payload["containerTag"] = tags[0]
	}
	var out struct {
		Results []map[string]any `json:"results"`
	}
	status, err := c.post(ctx, "/v4/search", payload, &out)
	if err == nil && status == http.StatusNotFound {
		status, err = c.post(ctx, "/v3/search", payload, &out)
	}
	if err != nil || status >= 300 {
		c.log.Warn("memory search failed", "status", status, "err", err)
		return Results{Results: []map[string]any{}, Enabled: true}
	}
	if out.Results == nil {
		out.Results = []map[string]any{}
	}
	return Results{Results: out.Results, Enabled: true}
}

// post sends JSON and decodes a 2xx body into out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("memory request %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
