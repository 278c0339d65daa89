// Package manualfeed implements the ManualOnly adapter: it never calls
// the Fetcher, and its drafts come entirely from replaying checked-in
// bundles under manual/<source_id>/.
package manualfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/someflydev/rhof/internal/adapter"
	"github.com/someflydev/rhof/internal/artifact"
	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rherr"
)

const ExtractorVersion = 1

// recordByArtifact pairs a pre-parsed record fixture with the source
// URL and captured_at of the bundle it came from, keyed by the
// artifact ID that bundle's replay assigned it.
type recordByArtifact struct {
	sourceURL  string
	capturedAt time.Time
	record     adapter.RecordFixture
}

// Adapter replays manual/<source_id>/*.json bundles in filename order.
type Adapter struct {
	sourceID  string
	manualDir string
	store     *artifact.Store

	byArtifact map[string]recordByArtifact
}

// New returns a manualfeed adapter rooted at manualDir/<sourceID>.
func New(sourceID, manualDir string, store *artifact.Store) *Adapter {
	return &Adapter{sourceID: sourceID, manualDir: manualDir, store: store}
}

func (a *Adapter) SourceID() string                 { return a.sourceID }
func (a *Adapter) Crawlability() model.Crawlability { return model.CrawlManualOnly }
func (a *Adapter) ExtractorVersion() int            { return ExtractorVersion }

// Fetch is a no-op beyond replaying bundle-referenced bytes into the
// Artifact Store: a ManualOnly source is never reached over the network.
func (a *Adapter) Fetch(ctx context.Context, cfg registry.SourceConfig) ([]adapter.RawArtifact, error) {
	paths, err := filepath.Glob(filepath.Join(a.manualDir, a.sourceID, "*.json"))
	if err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "manualfeed.Fetch", err)
	}
	sort.Strings(paths)

	a.byArtifact = make(map[string]recordByArtifact)
	var out []adapter.RawArtifact
	for _, p := range paths {
		b, err := adapter.LoadBundle(p)
		if err != nil {
			return nil, err
		}
		placed, err := b.Replay(a.store)
		if err != nil {
			return nil, err
		}
		out = append(out, placed...)
		for i, raw := range placed {
			if i < len(b.Records) {
				a.byArtifact[raw.ArtifactID] = recordByArtifact{
					sourceURL:  raw.SourceURL,
					capturedAt: b.CapturedAt,
					record:     b.Records[i],
				}
			}
		}
	}
	return out, nil
}

// Parse returns the pre-parsed record associated with artifactID, since
// a manual bundle's "extraction" is the checked-in record data itself
// rather than something recomputed from bytes.
func (a *Adapter) Parse(artifactBytes []byte, sourceURL, artifactID string) ([]model.OpportunityDraft, error) {
	rec, ok := a.byArtifact[artifactID]
	if !ok {
		return nil, rherr.New(rherr.ParseError, "manualfeed.Parse", fmt.Errorf("no bundle record found for artifact %s", artifactID))
	}
	draft, err := recordToDraft(a.sourceID, rec.sourceURL, artifactID, rec.capturedAt, rec.record)
	if err != nil {
		return nil, rherr.New(rherr.ParseError, "manualfeed.Parse", err)
	}
	return []model.OpportunityDraft{draft}, nil
}

func recordToDraft(sourceID, sourceURL, artifactID string, capturedAt time.Time, r adapter.RecordFixture) (model.OpportunityDraft, error) {
	d := model.OpportunityDraft{
		SourceID:      sourceID,
		SourceURL:     sourceURL,
		FetchedAt:     capturedAt,
		RawArtifactID: artifactID,
		RawExtras:     map[string]model.Field[string]{},
	}

	var err error
	if d.Title, err = fieldString(r.Title); err != nil {
		return d, err
	}
	if d.Company, err = fieldString(r.Company); err != nil {
		return d, err
	}
	if d.Location, err = fieldString(r.Location); err != nil {
		return d, err
	}
	if d.ApplyURL, err = fieldString(r.ApplyURL); err != nil {
		return d, err
	}
	if d.Description, err = fieldString(r.Description); err != nil {
		return d, err
	}

	remoteKind, err := fieldString(r.RemoteKind)
	if err != nil {
		return d, err
	}
	if remoteKind.Populated() {
		rk := model.RemoteKind(*remoteKind.Value)
		d.RemoteKind = model.Field[model.RemoteKind]{Value: &rk, Evidence: remoteKind.Evidence}
	}

	postedAt, err := fieldString(r.PostedAt)
	if err != nil {
		return d, err
	}
	if postedAt.Populated() {
		t, perr := time.Parse(time.RFC3339, *postedAt.Value)
		if perr != nil {
			return d, perr
		}
		d.PostedAt = model.Field[time.Time]{Value: &t, Evidence: postedAt.Evidence}
	}

	if r.PayRange.Value != nil {
		var pr model.PayRange
		if err := json.Unmarshal(r.PayRange.Value, &pr); err != nil {
			return d, err
		}
		var ev *model.EvidenceRef
		if r.PayRange.Evidence != nil {
			ev = evidenceFromFixture(r.PayRange.Evidence)
		}
		d.PayRange = model.Field[model.PayRange]{Value: &pr, Evidence: ev}
	}

	for k, v := range r.RawExtras {
		f, err := fieldString(v)
		if err != nil {
			return d, err
		}
		d.RawExtras[k] = f
	}

	stampArtifactID(&d, artifactID)
	return d, nil
}

// stampArtifactID overwrites every populated field's evidence with the
// artifact id the bundle replay actually assigned, since the checked-in
// fixture can't know that id ahead of time.
func stampArtifactID(d *model.OpportunityDraft, artifactID string) {
	if d.Title.HasEvidence() {
		d.Title.Evidence.RawArtifactID = artifactID
	}
	if d.Company.HasEvidence() {
		d.Company.Evidence.RawArtifactID = artifactID
	}
	if d.Location.HasEvidence() {
		d.Location.Evidence.RawArtifactID = artifactID
	}
	if d.RemoteKind.HasEvidence() {
		d.RemoteKind.Evidence.RawArtifactID = artifactID
	}
	if d.PayRange.HasEvidence() {
		d.PayRange.Evidence.RawArtifactID = artifactID
	}
	if d.ApplyURL.HasEvidence() {
		d.ApplyURL.Evidence.RawArtifactID = artifactID
	}
	if d.Description.HasEvidence() {
		d.Description.Evidence.RawArtifactID = artifactID
	}
	if d.PostedAt.HasEvidence() {
		d.PostedAt.Evidence.RawArtifactID = artifactID
	}
	for k, f := range d.RawExtras {
		if f.HasEvidence() {
			f.Evidence.RawArtifactID = artifactID
			d.RawExtras[k] = f
		}
	}
}

func fieldString(f adapter.FieldFixture) (model.Field[string], error) {
	if f.Value == nil {
		return model.Field[string]{}, nil
	}
	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		return model.Field[string]{}, err
	}
	var ev *model.EvidenceRef
	if f.Evidence != nil {
		ev = evidenceFromFixture(f.Evidence)
	}
	return model.Field[string]{Value: &s, Evidence: ev}, nil
}

func evidenceFromFixture(f *adapter.EvidenceFixture) *model.EvidenceRef {
	return &model.EvidenceRef{
		RawArtifactID:     f.RawArtifactID,
		SourceURL:         f.SourceURL,
		SelectorOrPointer: f.SelectorOrPointer,
		Snippet:           f.Snippet,
		FetchedAt:         f.FetchedAt,
		ExtractorVersion:  f.ExtractorVersion,
	}
}
