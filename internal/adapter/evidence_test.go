package adapter

import (
	"strings"
	"testing"
	"time"

	"github.com/someflydev/rhof/internal/model"
)

func TestEvidenceBuilderRefTrimsLongSnippets(t *testing.T) {
	b := EvidenceBuilder{
		ArtifactID:       "art-1",
		SourceURL:        "https://jobs.example.invalid/remote",
		FetchedAt:        time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC),
		ExtractorVersion: 1,
	}
	long := strings.Repeat("x", 500)
	ev := b.Ref("h2.job-title", long)
	if len(ev.Snippet) != 280 {
		t.Fatalf("expected snippet truncated to 280 chars, got %d", len(ev.Snippet))
	}
	if ev.RawArtifactID != "art-1" {
		t.Fatalf("expected artifact id carried through, got %s", ev.RawArtifactID)
	}
}

func TestEvidenceBuilderRefTrimsWhitespace(t *testing.T) {
	b := EvidenceBuilder{ArtifactID: "art-1"}
	ev := b.Ref("h2", "  Senior Engineer  \n")
	if ev.Snippet != "Senior Engineer" {
		t.Fatalf("expected trimmed snippet, got %q", ev.Snippet)
	}
}

func field(populated, withEvidence bool) model.Field[string] {
	if !populated {
		return model.Field[string]{}
	}
	v := "x"
	f := model.Field[string]{Value: &v}
	if withEvidence {
		f.Evidence = &model.EvidenceRef{}
	}
	return f
}

func TestEvidenceCoveragePercentAllPopulatedWithEvidence(t *testing.T) {
	d := model.OpportunityDraft{
		Title:       field(true, true),
		Company:     field(true, true),
		Location:    field(true, true),
		Description: field(true, true),
	}
	if got := EvidenceCoveragePercent(d); got != 100.0 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestEvidenceCoveragePercentPartialCoverage(t *testing.T) {
	d := model.OpportunityDraft{
		Title:   field(true, true),
		Company: field(true, false),
	}
	got := EvidenceCoveragePercent(d)
	if got != 50.0 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestEvidenceCoveragePercentIgnoresUnpopulatedFields(t *testing.T) {
	d := model.OpportunityDraft{
		Title: field(true, true),
		// Company, Location, etc. left unpopulated entirely.
	}
	if got := EvidenceCoveragePercent(d); got != 100.0 {
		t.Fatalf("expected unpopulated fields to be excluded from the denominator, got %v", got)
	}
}

func TestEvidenceCoveragePercentNoPopulatedFieldsIsFullCoverage(t *testing.T) {
	if got := EvidenceCoveragePercent(model.OpportunityDraft{}); got != 100.0 {
		t.Fatalf("expected vacuous 100, got %v", got)
	}
}

func TestEvidenceCoveragePercentCountsRawExtras(t *testing.T) {
	d := model.OpportunityDraft{
		Title: field(true, true),
		RawExtras: map[string]model.Field[string]{
			"benefits": field(true, false),
		},
	}
	got := EvidenceCoveragePercent(d)
	if got != 50.0 {
		t.Fatalf("expected raw_extras to count toward coverage, got %v", got)
	}
}
