package adapter

import (
	"strings"
	"time"

	"github.com/someflydev/rhof/internal/model"
)

// EvidenceBuilder accumulates the shared fields (artifact id, source
// URL, fetched-at, extractor version) that every EvidenceRef an adapter
// produces for one document carries in common.
type EvidenceBuilder struct {
	ArtifactID       string
	SourceURL        string
	FetchedAt        time.Time
	ExtractorVersion int
}

// Ref builds an EvidenceRef for one extracted value, trimming the
// snippet to a bounded length so evidence_json stays small.
func (b EvidenceBuilder) Ref(selector, snippet string) model.EvidenceRef {
	const maxSnippet = 280
	s := strings.TrimSpace(snippet)
	if len(s) > maxSnippet {
		s = s[:maxSnippet]
	}
	return model.EvidenceRef{
		RawArtifactID:     b.ArtifactID,
		SourceURL:         b.SourceURL,
		SelectorOrPointer: selector,
		Snippet:           s,
		FetchedAt:         b.FetchedAt,
		ExtractorVersion:  b.ExtractorVersion,
	}
}

// EvidenceCoveragePercent computes the fraction of populated canonical
// fields that also carry evidence, as a percentage.
func EvidenceCoveragePercent(d model.OpportunityDraft) float64 {
	type checker struct {
		populated bool
		hasEv     bool
	}
	checks := []checker{
		{d.Title.Populated(), d.Title.HasEvidence()},
		{d.Company.Populated(), d.Company.HasEvidence()},
		{d.Location.Populated(), d.Location.HasEvidence()},
		{d.RemoteKind.Populated(), d.RemoteKind.HasEvidence()},
		{d.PayRange.Populated(), d.PayRange.HasEvidence()},
		{d.ApplyURL.Populated(), d.ApplyURL.HasEvidence()},
		{d.Description.Populated(), d.Description.HasEvidence()},
		{d.PostedAt.Populated(), d.PostedAt.HasEvidence()},
	}
	for _, f := range d.RawExtras {
		checks = append(checks, checker{f.Populated(), f.HasEvidence()})
	}

	populated := 0
	withEvidence := 0
	for _, c := range checks {
		if c.populated {
			populated++
			if c.hasEv {
				withEvidence++
			}
		}
	}
	if populated == 0 {
		return 100.0
	}
	return 100.0 * float64(withEvidence) / float64(populated)
}
