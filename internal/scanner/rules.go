package scanner

import (
	"embed"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/vibecheck/internal/model"
)

//go:embed rules/*.yaml
var rulesFS embed.FS

// Rule is one line-oriented pattern loaded from a rule pack.
type Rule struct {
	ID          string   `yaml:"id"`
	Severity    string   `yaml:"severity"`
	Category    string   `yaml:"category"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Remediation string   `yaml:"remediation"`
	Pattern     string   `yaml:"pattern"`
	Extensions  []string `yaml:"extensions"`
	Ignore      []string `yaml:"ignore"`

	severity model.Severity
	re       *regexp.Regexp
}

// Advisory marks versions of a package below Fixed as vulnerable.
type Advisory struct {
	Package   string `yaml:"package"`
	Ecosystem string `yaml:"ecosystem"`
	Fixed     string `yaml:"fixed"`
	Severity  string `yaml:"severity"`
	Advisory  string `yaml:"advisory"`
	Summary   string `yaml:"summary"`

	severity model.Severity
	fixed    *semver.Version
}

type rulePack struct {
	Rules []Rule `yaml:"rules"`
}

type advisoryPack struct {
	Advisories []Advisory `yaml:"advisories"`
}

type ruleSet struct {
	patterns   []Rule
	secrets    []Rule
	advisories []Advisory
}

var defaultRules = mustLoadRules()

func mustLoadRules() ruleSet {
	rs, err := loadRules()
	if err != nil {
		panic(err)
	}
	return rs
}

func loadRules() (ruleSet, error) {
	var rs ruleSet
	var err error
	if rs.patterns, err = loadRulePack("rules/patterns.yaml"); err != nil {
		return rs, err
	}
	if rs.secrets, err = loadRulePack("rules/secrets.yaml"); err != nil {
		return rs, err
	}
	if rs.advisories, err = loadAdvisories("rules/dependencies.yaml"); err != nil {
		return rs, err
	}
	return rs, nil
}

// ParseRules decodes and compiles a YAML rule pack.
func ParseRules(data []byte) ([]Rule, error) {
	var pack rulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	for i := range pack.Rules {
		r := &pack.Rules[i]
		sev, err := model.ParseSeverity(r.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.severity = sev
		if r.re, err = regexp.Compile(r.Pattern); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if r.Title == "" || r.Description == "" || r.Remediation == "" || r.Category == "" {
			return nil, fmt.Errorf("rule %s: title, description, remediation and category are required", r.ID)
		}
	}
	return pack.Rules, nil
}

// ParseAdvisories decodes a YAML advisory pack.
func ParseAdvisories(data []byte) ([]Advisory, error) {
	var pack advisoryPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	for i := range pack.Advisories {
		a := &pack.Advisories[i]
		sev, err := model.ParseSeverity(a.Severity)
		if err != nil {
			return nil, fmt.Errorf("advisory %s: %w", a.Advisory, err)
		}
		a.severity = sev
		fixed, ok := parseVersion(a.Fixed)
		if !ok {
			return nil, fmt.Errorf("advisory %s: bad fixed version %q", a.Advisory, a.Fixed)
		}
		a.fixed = fixed
	}
	return pack.Advisories, nil
}

func loadRulePack(name string) ([]Rule, error) {
	data, err := rulesFS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rules, nil
}

func loadAdvisories(name string) ([]Advisory, error) {
	data, err := rulesFS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	adv, err := ParseAdvisories(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return adv, nil
}

func (r *Rule) appliesTo(p string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	e := ext(p)
	for _, x := range r.Extensions {
		if x == e {
			return true
		}
	}
	return false
}
