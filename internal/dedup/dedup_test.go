package dedup

import (
	"testing"

	"github.com/someflydev/rhof/internal/model"
)

func strField(s string) model.Field[string] {
	return model.Field[string]{Value: &s}
}

func draftWith(title, applyURL, company string) model.OpportunityDraft {
	return model.OpportunityDraft{
		Title:    strField(title),
		ApplyURL: strField(applyURL),
		Company:  strField(company),
	}
}

func TestDecideNewWithNoCandidates(t *testing.T) {
	d := draftWith("Backend Engineer", "https://a.invalid/1", "Acme")
	got := DefaultHook{}.Decide(d, nil)
	if got.Kind != model.DedupNew {
		t.Fatalf("expected new, got %s", got.Kind)
	}
}

func TestDecideMergesOnIdenticalTitleAndApplyURL(t *testing.T) {
	d := draftWith("Senior Backend Engineer", "https://jobs.example.invalid/listing/42", "Nimbus Data Co.")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Senior Backend Engineer", ApplyURL: "https://jobs.example.invalid/listing/42", Company: "Nimbus Data Co."},
	}
	got := DefaultHook{}.Decide(d, candidates)
	if got.Kind != model.DedupMergedInto {
		t.Fatalf("expected merged_into, got %s", got.Kind)
	}
	if got.MergedIntoID != "opp-1" {
		t.Fatalf("expected opp-1, got %s", got.MergedIntoID)
	}
}

func TestDecideReviewRequiredOnSimilarTitleDifferentURL(t *testing.T) {
	d := draftWith("Senior Backend Engineerr", "https://jobs.example.invalid/listing/99", "Nimbus Data Co.")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Senior Backend Engineer", ApplyURL: "https://jobs.example.invalid/listing/42", Company: "Nimbus Data Co."},
	}
	got := DefaultHook{}.Decide(d, candidates)
	if got.Kind != model.DedupReviewRequired {
		t.Fatalf("expected review_required, got %s", got.Kind)
	}
}

func TestDecideDistinctOnUnrelatedTitles(t *testing.T) {
	d := draftWith("Customer Support Representative", "https://jobs.example.invalid/listing/7", "Harborline Logistics")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Senior Backend Engineer", ApplyURL: "https://jobs.example.invalid/listing/42", Company: "Nimbus Data Co."},
	}
	got := DefaultHook{}.Decide(d, candidates)
	if got.Kind != model.DedupNew {
		t.Fatalf("expected new for an unrelated title, got %s", got.Kind)
	}
}

func TestDecideUsesCompanyOnlyAsTiebreaker(t *testing.T) {
	// Two candidates with equally-similar titles; the one sharing the
	// draft's company should be preferred as the comparison target, but
	// the merge/review decision itself still runs off title similarity
	// and apply_url, not off the company match alone.
	d := draftWith("Product Designer", "https://jobs.example.invalid/listing/5", "Confidential")
	candidates := []Candidate{
		{OpportunityID: "opp-other-co", Title: "Product Designer", ApplyURL: "https://jobs.example.invalid/listing/999", Company: "Some Other Co"},
		{OpportunityID: "opp-same-co", Title: "Product Designer", ApplyURL: "https://jobs.example.invalid/listing/5", Company: "Confidential"},
	}
	got := DefaultHook{}.Decide(d, candidates)
	if got.Kind != model.DedupMergedInto {
		t.Fatalf("expected merged_into, got %s", got.Kind)
	}
	if got.MergedIntoID != "opp-same-co" {
		t.Fatalf("expected the same-company candidate to win the tiebreak, got %s", got.MergedIntoID)
	}
}

func TestThresholdBoundaries(t *testing.T) {
	if mergeThreshold != 0.95 {
		t.Fatalf("expected merge threshold 0.95, got %v", mergeThreshold)
	}
	if reviewThreshold != 0.88 {
		t.Fatalf("expected review threshold 0.88, got %v", reviewThreshold)
	}
}
