// Package agent holds the robust-mode probe agents. Agents talk to a live
// target and record findings into a sink the orchestrator commits only when
// the agent returns cleanly.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
)

type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DepthStandard, nil
	case DepthQuick, DepthStandard, DepthDeep:
		return d, nil
	}
	return "", fmt.Errorf("invalid depth %q (want quick, standard or deep)", s)
}

func (d Depth) atLeast(min Depth) bool {
	return d.level() >= min.level()
}

func (d Depth) level() int {
	switch d {
	case DepthQuick:
		return 0
	case DepthDeep:
		return 2
	}
	return 1
}

// Sink receives an agent's findings.
type Sink interface {
	Record(f model.Finding) error
}

type Config struct {
	AssessmentID string
	TargetURL    string
	Depth        Depth
	Prober       probe.Requester
	Sink         Sink
}

type Agent interface {
	Name() string
	Run(ctx context.Context) error
}

type Factory func(Config) Agent

type entry struct {
	name    string
	factory Factory
}

// registry is ordered; the default agent list follows it.
var registry = []entry{
	{"headers", func(c Config) Agent { return &Headers{base{name: "headers", cfg: c}} }},
	{"cors", func(c Config) Agent { return &CORS{base{name: "cors", cfg: c}} }},
	{"exposure", func(c Config) Agent { return &Exposure{base{name: "exposure", cfg: c}} }},
	{"methods", func(c Config) Agent { return &Methods{base{name: "methods", cfg: c}} }},
}

// Names lists the registered agents in registry order.
func Names() []string {
	out := make([]string, len(registry))
	for i, e := range registry {
		out[i] = e.name
	}
	return out
}

// New builds the named agent. Unknown names report false.
func New(name string, cfg Config) (Agent, bool) {
	for _, e := range registry {
		if e.name == name {
			return e.factory(cfg), true
		}
	}
	return nil, false
}

type base struct {
	name string
	cfg  Config
}

func (b *base) Name() string { return b.name }

func (b *base) request(ctx context.Context, method, path string, opts ...probe.Option) (*probe.Response, error) {
	resp, err := b.cfg.Prober.Request(ctx, b.cfg.TargetURL, method, path, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (b *base) record(f model.Finding) error {
	f.Agent = b.name
	f.AssessmentID = b.cfg.AssessmentID
	return b.cfg.Sink.Record(f)
}

func at(resp *probe.Response) *model.Location {
	return &model.Location{URL: resp.URL, Method: resp.Method}
}

// Recorder is an in-memory Sink. The orchestrator commits its contents after a
// clean Run.
type Recorder struct {
	Findings []model.Finding
}

func (r *Recorder) Record(f model.Finding) error {
	if !f.Severity.Valid() {
		return fmt.Errorf("agent %s recorded invalid severity %q", f.Agent, f.Severity)
	}
	r.Findings = append(r.Findings, f)
	return nil
}
