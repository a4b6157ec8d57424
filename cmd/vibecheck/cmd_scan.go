package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/yourorg/vibecheck/internal/aggregate"
	"github.com/yourorg/vibecheck/internal/introspect"
	"github.com/yourorg/vibecheck/internal/lifecycle"
	"github.com/yourorg/vibecheck/internal/llm"
	"github.com/yourorg/vibecheck/internal/logging"
	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/scanner"
	"github.com/yourorg/vibecheck/internal/source"
)

var scanFlags struct {
	json    bool
	failOn  string
	exclude []string
	noLLM   bool
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Run the lightweight scanners over a local directory",
	Long: `Reads <dir> with the same filters used for cloned repositories, runs the
lightweight scanners and prints the findings most severe first. The
contextual LLM scanner joins when GEMINI_API_KEY is set.

With --fail-on the command exits 1 when any finding is at or above the
given severity.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanFlags.json, "json", false, "print findings as JSON")
	scanCmd.Flags().StringVar(&scanFlags.failOn, "fail-on", "", "exit 1 when a finding is at or above this severity")
	scanCmd.Flags().StringSliceVar(&scanFlags.exclude, "exclude", nil, "glob of paths to skip (repeatable)")
	scanCmd.Flags().BoolVar(&scanFlags.noLLM, "no-llm", false, "skip the contextual LLM scanner")
}

// thresholdError signals findings at or above --fail-on. The table already
// says why, so main exits without printing it.
type thresholdError struct {
	threshold model.Severity
}

func (e *thresholdError) Error() string {
	return fmt.Sprintf("findings at or above %s", e.threshold)
}

type scanResult struct {
	Path     string              `json:"path"`
	Project  model.ProjectInfo   `json:"project"`
	Counts   model.FindingCounts `json:"finding_counts"`
	Findings []model.Finding     `json:"findings"`
}

func runScan(cmd *cobra.Command, args []string) error {
	var threshold model.Severity
	if scanFlags.failOn != "" {
		sev, err := model.ParseSeverity(scanFlags.failOn)
		if err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
		threshold = sev
	}

	scanners := scanner.Static()
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && !scanFlags.noLLM {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.LLMTimeout)
		scanners = append(scanners, scanner.NewContextual(client))
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	res, err := scanDir(ctx, logging.New("scan"), args[0], scanFlags.exclude, scanners)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		renderFindings(out, res)
	}

	if threshold != "" && aggregate.AtLeast(res.Findings, threshold) {
		return &thresholdError{threshold: threshold}
	}
	return nil
}

// scanDir runs scanners in order over the files under dir. A scanner that
// breaks is logged and skipped; the others still report.
func scanDir(ctx context.Context, log *slog.Logger, dir string, exclude []string, scanners []scanner.Scanner) (scanResult, error) {
	files, err := source.ReadDir(dir, exclude)
	if err != nil {
		return scanResult{}, fmt.Errorf("read %s: %w", dir, err)
	}
	info := introspect.Detect(files)
	log.Debug("project detected", "files", len(files), "language", info.Language, "framework", info.Framework)

	batches := make([]aggregate.Batch, 0, len(scanners))
	for _, s := range scanners {
		found, err := s.Scan(ctx, files, info)
		if err != nil {
			if ctx.Err() != nil {
				return scanResult{}, ctx.Err()
			}
			log.Warn("scanner failed", "scanner", s.Name(), "err", err)
			continue
		}
		batches = append(batches, aggregate.Batch{Producer: s.Name(), Findings: found})
	}

	findings, counts, err := aggregate.Merge(batches)
	if err != nil {
		return scanResult{}, err
	}
	aggregate.SortBySeverity(findings)
	if findings == nil {
		findings = []model.Finding{}
	}
	return scanResult{Path: dir, Project: info, Counts: counts, Findings: findings}, nil
}

func renderFindings(w io.Writer, res scanResult) {
	if len(res.Findings) == 0 {
		fmt.Fprintf(w, "No findings in %s (%d dependencies, language %s)\n", res.Path, len(res.Project.Dependencies), orDash(res.Project.Language))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Severity", "Category", "Title", "Location", "Agent"})
	for _, f := range res.Findings {
		t.AppendRow(table.Row{string(f.Severity), f.Category, lifecycle.Truncate(f.Title, 80), location(f.Location), f.Agent})
	}
	c := res.Counts
	t.AppendFooter(table.Row{"Total", c.Total, fmt.Sprintf("critical %d  high %d  medium %d  low %d  info %d", c.Critical, c.High, c.Medium, c.Low, c.Info), "", ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 80},
		{Number: 4, WidthMax: 50, Align: text.AlignLeft},
	})
	t.Render()
}

func location(loc *model.Location) string {
	switch {
	case loc == nil:
		return "-"
	case loc.File != "" && loc.Line > 0:
		return fmt.Sprintf("%s:%d", loc.File, loc.Line)
	case loc.File != "":
		return loc.File
	case loc.URL != "":
		return loc.URL
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
