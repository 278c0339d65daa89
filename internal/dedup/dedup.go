// Package dedup implements the merge/review/distinct decision attached
// to every draft in a sync run, using Jaro-Winkler title similarity
// combined with exact apply_url and company matching.
package dedup

import (
	"strings"

	"github.com/xrash/smetrics"

	"github.com/someflydev/rhof/internal/model"
)

const (
	mergeThreshold  = 0.95
	reviewThreshold = 0.88
)

// Candidate is the minimal view of an already-persisted opportunity the
// Hook compares incoming drafts against.
type Candidate struct {
	OpportunityID string
	SourceID      string
	Title         string
	ApplyURL      string
	Company       string
}

// Hook decides, for a draft, how it relates to previously seen
// opportunities. It never mutates persisted state, only returns an
// annotation for the orchestrator to attach.
type Hook interface {
	Decide(draft model.OpportunityDraft, candidates []Candidate) model.DedupDecision
}

// DefaultHook implements the Jaro-Winkler + exact-field decision rule.
type DefaultHook struct{}

func (DefaultHook) Decide(draft model.OpportunityDraft, candidates []Candidate) model.DedupDecision {
	title := ""
	if draft.Title.Populated() {
		title = normalize(*draft.Title.Value)
	}
	applyURL := ""
	if draft.ApplyURL.Populated() {
		applyURL = normalize(*draft.ApplyURL.Value)
	}
	company := ""
	if draft.Company.Populated() {
		company = normalize(*draft.Company.Value)
	}

	// Rank candidates by title similarity; ties broken in favor of a
	// matching company, since two boards often post the same title for
	// different roles.
	bestSim := -1.0
	bestCompanyMatch := false
	var bestCandidate Candidate
	for _, c := range candidates {
		sim := smetrics.JaroWinkler(title, normalize(c.Title), 0.7, 4)
		companyMatch := company != "" && company == normalize(c.Company)
		if sim > bestSim || (sim == bestSim && companyMatch && !bestCompanyMatch) {
			bestSim = sim
			bestCompanyMatch = companyMatch
			bestCandidate = c
		}
	}

	if bestSim < 0 {
		return model.DedupDecision{Kind: model.DedupNew}
	}

	sameApplyURL := applyURL != "" && applyURL == normalize(bestCandidate.ApplyURL)

	switch {
	case bestSim >= mergeThreshold && sameApplyURL:
		return model.DedupDecision{Kind: model.DedupMergedInto, MergedIntoID: bestCandidate.OpportunityID}
	case bestSim >= reviewThreshold:
		return model.DedupDecision{Kind: model.DedupReviewRequired, MergedIntoID: bestCandidate.OpportunityID}
	default:
		return model.DedupDecision{Kind: model.DedupNew}
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Join(strings.Fields(s), " ")))
}
