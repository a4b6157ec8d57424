package aggregate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/model"
)

func finding(sev model.Severity, title string, line int) model.Finding {
	return model.Finding{
		Severity:    sev,
		Category:    "c",
		Title:       title,
		Description: "d",
		Remediation: "r",
		Location:    &model.Location{File: "a.py", Line: line},
	}
}

func TestMergeTagsAndOrders(t *testing.T) {
	selfTagged := finding(model.SeverityLow, "self", 1)
	selfTagged.Agent = "custom"
	got, counts, err := Merge([]Batch{
		{Producer: "dependency_scanner", Findings: []model.Finding{finding(model.SeverityHigh, "dep", 1)}},
		{Producer: "pattern_scanner", Findings: []model.Finding{selfTagged, finding(model.SeverityCritical, "pat", 2)}},
		{Producer: "secret_scanner"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var agents []string
	for _, f := range got {
		agents = append(agents, f.Agent+"/"+f.Title)
	}
	want := []string{"dependency_scanner/dep", "custom/self", "pattern_scanner/pat"}
	if diff := cmp.Diff(want, agents); diff != "" {
		t.Errorf("merge order (-want +got):\n%s", diff)
	}
	wantCounts := model.FindingCounts{Critical: 1, High: 1, Low: 1, Total: 3}
	if diff := cmp.Diff(wantCounts, counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestMergeDedupesWithinProducer(t *testing.T) {
	f := finding(model.SeverityMedium, "same", 3)
	got, counts, err := Merge([]Batch{
		{Producer: "pattern_scanner", Findings: []model.Finding{f, f}},
		{Producer: "secret_scanner", Findings: []model.Finding{f}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || counts.Total != 2 || counts.Medium != 2 {
		t.Errorf("got %d findings, counts %+v", len(got), counts)
	}
}

func TestMergeRejectsInvalidSeverity(t *testing.T) {
	_, _, err := Merge([]Batch{
		{Producer: "pattern_scanner", Findings: []model.Finding{finding("severe", "bad", 1)}},
	})
	if apperr.CodeOf(err) != apperr.CodeDataIntegrityViolation {
		t.Fatalf("err = %v, want DATA_INTEGRITY_VIOLATION", err)
	}
	incomplete := finding(model.SeverityLow, "t", 1)
	incomplete.Remediation = " "
	_, _, err = Merge([]Batch{{Producer: "config_scanner", Findings: []model.Finding{incomplete}}})
	if apperr.CodeOf(err) != apperr.CodeDataIntegrityViolation {
		t.Fatalf("err = %v, want DATA_INTEGRITY_VIOLATION", err)
	}
}

func TestSortBySeverityStable(t *testing.T) {
	in := []model.Finding{
		finding(model.SeverityInfo, "i", 1),
		finding(model.SeverityHigh, "h1", 1),
		finding(model.SeverityCritical, "c", 1),
		finding(model.SeverityHigh, "h2", 1),
	}
	SortBySeverity(in)
	var titles []string
	for _, f := range in {
		titles = append(titles, f.Title)
	}
	if diff := cmp.Diff([]string{"c", "h1", "h2", "i"}, titles); diff != "" {
		t.Errorf("sort (-want +got):\n%s", diff)
	}
	if !AtLeast(in, model.SeverityHigh) || AtLeast(in[3:], model.SeverityLow) {
		t.Error("AtLeast threshold mismatch")
	}
	if c := Tally(in); c.Total != 4 || c.High != 2 {
		t.Errorf("Tally = %+v", c)
	}
}
