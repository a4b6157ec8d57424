package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/yourorg/vibecheck/internal/agent"
	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/db"
	"github.com/yourorg/vibecheck/internal/model"
)

const maxInlineFiles = 2000

type createRequest struct {
	Mode           model.Mode   `json:"mode"`
	RepoURL        string       `json:"repo_url,omitempty"`
	Files          []model.File `json:"files,omitempty"`
	TargetURL      string       `json:"target_url,omitempty"`
	Agents         []string     `json:"agents,omitempty"`
	Depth          string       `json:"depth,omitempty"`
	Exclude        []string     `json:"exclude,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

// validate checks the input-source rules per mode and returns the storage
// request.
func (c createRequest) validate() (db.NewAssessment, error) {
	c.RepoURL = strings.TrimSpace(c.RepoURL)
	c.TargetURL = strings.TrimSpace(c.TargetURL)
	c.IdempotencyKey = strings.TrimSpace(c.IdempotencyKey)

	if !c.Mode.Valid() {
		return db.NewAssessment{}, apperr.Validation("mode must be 'lightweight' or 'robust'")
	}
	if len(c.IdempotencyKey) > 255 {
		return db.NewAssessment{}, apperr.Validation("idempotency_key must be at most 255 characters")
	}
	switch c.Mode {
	case model.ModeLightweight:
		if c.TargetURL != "" || len(c.Agents) > 0 || c.Depth != "" {
			return db.NewAssessment{}, apperr.Validation("target_url, agents and depth apply to robust mode only")
		}
		if (c.RepoURL == "") == (len(c.Files) == 0) {
			return db.NewAssessment{}, apperr.Validation("lightweight mode requires exactly one of repo_url or files")
		}
		if c.RepoURL != "" {
			if err := checkURL("repo_url", c.RepoURL); err != nil {
				return db.NewAssessment{}, err
			}
		}
		if len(c.Files) > maxInlineFiles {
			return db.NewAssessment{}, apperr.Validation("at most %d files may be uploaded", maxInlineFiles)
		}
		for i, f := range c.Files {
			if strings.TrimSpace(f.Path) == "" {
				return db.NewAssessment{}, apperr.Validation("files[%d].path is required", i)
			}
		}
	case model.ModeRobust:
		if c.RepoURL != "" || len(c.Files) > 0 {
			return db.NewAssessment{}, apperr.Validation("repo_url and files apply to lightweight mode only")
		}
		if c.TargetURL == "" {
			return db.NewAssessment{}, apperr.Validation("robust mode requires target_url")
		}
		if err := checkURL("target_url", c.TargetURL); err != nil {
			return db.NewAssessment{}, err
		}
		if _, err := agent.ParseDepth(c.Depth); err != nil {
			return db.NewAssessment{}, apperr.Validation("%v", err)
		}
	}

	return db.NewAssessment{
		Mode:           c.Mode,
		RepoURL:        c.RepoURL,
		TargetURL:      c.TargetURL,
		Agents:         c.Agents,
		Depth:          c.Depth,
		IdempotencyKey: c.IdempotencyKey,
		RequestHash:    c.fingerprint(),
		Payload: model.RunPayload{
			Files:   c.Files,
			Agents:  c.Agents,
			Depth:   c.Depth,
			Exclude: c.Exclude,
		},
	}, nil
}

// fingerprint hashes everything but the idempotency key itself.
func (c createRequest) fingerprint() string {
	c.IdempotencyKey = ""
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Validation("%s must be an absolute http(s) URL", field)
	}
	return nil
}
