// Package sync implements the Sync Orchestrator: the single-writer
// driver that walks every enabled source in one run, fetch through
// persist, and emits the run's human and machine outputs.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/someflydev/rhof/internal/adapter"
	"github.com/someflydev/rhof/internal/artifact"
	"github.com/someflydev/rhof/internal/dedup"
	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rherr"
	"github.com/someflydev/rhof/internal/rules"
	"github.com/someflydev/rhof/internal/snapshot"
	"github.com/someflydev/rhof/internal/store"
)

// SourceReport summarizes one source's processing within a run.
type SourceReport struct {
	SourceID        string `json:"source_id"`
	ArtifactCount   int    `json:"artifact_count"`
	DraftCount      int    `json:"draft_count"`
	NewCount        int    `json:"new_count"`
	UpdatedCount    int    `json:"updated_count"`
	UnchangedCount  int    `json:"unchanged_count"`
	ReviewCount     int    `json:"review_count"`
	Err             string `json:"error,omitempty"`
}

// RunReport is run_sync's return value and the basis for both run
// outputs.
type RunReport struct {
	RunID     string          `json:"run_id"`
	Status    string          `json:"status"` // ok|partial|failed
	StartedAt time.Time       `json:"started_at"`
	Sources   []SourceReport  `json:"sources"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// OpportunityDelta is one entry of opportunities_delta.json.
type OpportunityDelta struct {
	OpportunityID string `json:"opportunity_id"`
	SourceID      string `json:"source_id"`
	Title         string `json:"title,omitempty"`
	Change        string `json:"change"` // new|updated|unchanged
}

// Orchestrator wires every component the run_sync pipeline needs.
type Orchestrator struct {
	Registry    *registry.Registry
	Store       *store.Store
	Adapters    *adapter.Table
	ArtifactStr *artifact.Store
	DedupHook   dedup.Hook
	RuleSets    []*rules.Set
	ReportsRoot string
	// Snapshot, when non-nil, is invoked after persistence to export the
	// run's columnar materialization. Tests may leave it nil to skip the
	// database-backed snapshot step.
	Snapshot func(ctx context.Context, runID string) error
}

// RunSync drives one full pipeline run.
func (o *Orchestrator) RunSync(ctx context.Context) (RunReport, error) {
	unfinished, err := o.Store.HasUnfinishedFetchRun(ctx)
	if err != nil {
		return RunReport{}, err
	}
	if unfinished {
		return RunReport{}, rherr.New(rherr.Database, "sync.RunSync",
			fmt.Errorf("an unfinished fetch run already exists; refusing to start a new one"))
	}

	var sources []registry.SourceConfig
	for _, cfg := range o.Registry.All() {
		if cfg.Enabled {
			sources = append(sources, cfg)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })

	for _, cfg := range sources {
		if err := o.Store.UpsertSource(ctx, cfg); err != nil {
			return RunReport{}, err
		}
	}

	runID, err := o.Store.StartFetchRun(ctx)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{RunID: runID, StartedAt: time.Now().UTC()}
	var deltas []OpportunityDelta
	succeeded, failed := 0, 0

	for _, cfg := range sources {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		sr, srDeltas, srErr := o.runSource(ctx, runID, cfg)
		report.Sources = append(report.Sources, sr)
		deltas = append(deltas, srDeltas...)
		if srErr != nil {
			failed++
		} else {
			succeeded++
		}
	}

	status := "ok"
	switch {
	case report.Cancelled:
		status = "failed"
	case failed > 0 && succeeded == 0:
		status = "failed"
	case failed > 0:
		status = "partial"
	}
	report.Status = status

	if err := o.emitOutputs(report, deltas); err != nil {
		return report, err
	}

	if o.Snapshot != nil && !report.Cancelled {
		if err := o.Snapshot(ctx, runID); err != nil {
			return report, err
		}
	}

	summary := map[string]interface{}{
		"succeeded": succeeded,
		"failed":    failed,
		"cancelled": report.Cancelled,
	}
	if err := o.Store.FinishFetchRun(ctx, runID, status, summary); err != nil {
		return report, err
	}

	return report, nil
}

// runSource processes one source end to end: fetch/replay, parse,
// normalize, dedup, enrich, persist. A source-level error is captured
// in the report rather than aborting the run; that's what makes a
// "partial" overall status possible.
func (o *Orchestrator) runSource(ctx context.Context, runID string, cfg registry.SourceConfig) (SourceReport, []OpportunityDelta, error) {
	sr := SourceReport{SourceID: cfg.ID}

	a, ok := o.Adapters.Get(cfg.ID)
	if !ok {
		sr.Err = fmt.Sprintf("no adapter registered for source %q", cfg.ID)
		return sr, nil, errors.New(sr.Err)
	}

	raws, err := a.Fetch(ctx, cfg)
	if err != nil {
		sr.Err = err.Error()
		return sr, nil, err
	}
	sr.ArtifactCount = len(raws)

	for _, raw := range raws {
		if err := o.Store.UpsertRawArtifact(ctx, runID, raw.ArtifactID, cfg.ID, raw.SourceURL, raw.ContentType, raw.ContentHash, raw.StoragePath, raw.ByteSize, raw.FetchedAt); err != nil {
			sr.Err = err.Error()
			return sr, nil, err
		}
	}

	var drafts []model.OpportunityDraft
	for _, raw := range raws {
		bytes, err := o.ArtifactStr.Read(raw.StoragePath)
		if err != nil {
			sr.Err = err.Error()
			return sr, nil, err
		}
		parsed, err := a.Parse(bytes, raw.SourceURL, raw.ArtifactID)
		if err != nil {
			sr.Err = err.Error()
			return sr, nil, err
		}
		drafts = append(drafts, parsed...)
	}
	sr.DraftCount = len(drafts)

	for i := range drafts {
		normalize(&drafts[i])
	}

	var deltas []OpportunityDelta
	for i := range drafts {
		if ctx.Err() != nil {
			return sr, deltas, ctx.Err()
		}

		candidates, err := o.Store.DedupCandidates(ctx, cfg.ID)
		if err != nil {
			sr.Err = err.Error()
			return sr, deltas, err
		}
		drafts[i].Dedup = o.DedupHook.Decide(drafts[i], candidates)

		outcome := rules.Evaluate(o.RuleSets, drafts[i])
		drafts[i].Tags = outcome.Tags
		riskFlags := make([]model.RiskFlag, len(outcome.RiskFlags))
		copy(riskFlags, outcome.RiskFlags)
		drafts[i].RiskFlags = riskFlags

		result, err := o.Store.UpsertOpportunity(ctx, drafts[i], drafts[i].RawArtifactID)
		if err != nil {
			sr.Err = err.Error()
			return sr, deltas, err
		}

		change := "unchanged"
		switch {
		case result.NewVersion && result.VersionNo == 1:
			change = "new"
			sr.NewCount++
		case result.NewVersion:
			change = "updated"
			sr.UpdatedCount++
		default:
			sr.UnchangedCount++
		}
		if result.ReviewItemOpened {
			sr.ReviewCount++
		}

		title := ""
		if drafts[i].Title.Populated() {
			title = *drafts[i].Title.Value
		}
		deltas = append(deltas, OpportunityDelta{
			OpportunityID: result.OpportunityID,
			SourceID:      cfg.ID,
			Title:         title,
			Change:        change,
		})
	}

	return sr, deltas, nil
}

// normalize applies the orchestrator's whitespace/evidence trims. Field
// values were already set by the adapter; this only tidies text and
// evidence snippets in place.
func normalize(d *model.OpportunityDraft) {
	if d.Title.Populated() {
		v := strings.TrimSpace(strings.Join(strings.Fields(*d.Title.Value), " "))
		d.Title.Value = &v
	}
	if d.Company.Populated() {
		v := strings.TrimSpace(strings.Join(strings.Fields(*d.Company.Value), " "))
		d.Company.Value = &v
	}
	if d.Location.Populated() {
		v := strings.TrimSpace(strings.Join(strings.Fields(*d.Location.Value), " "))
		d.Location.Value = &v
	}
	for _, f := range []*model.Field[string]{&d.Title, &d.Company, &d.Location, &d.ApplyURL, &d.Description} {
		if f.HasEvidence() && len(f.Evidence.Snippet) > 280 {
			trimmed := f.Evidence.Snippet[:280]
			f.Evidence.Snippet = trimmed
		}
	}
}

const briefTemplate = `# Daily Brief — run {{.RunID}}

Status: {{.Status}}
Started: {{.StartedAt.Format "2006-01-02T15:04:05Z07:00"}}
{{if .Cancelled}}Cancelled: true{{end}}

## Sources
{{range .Sources}}
- {{.SourceID}}: {{.ArtifactCount}} artifacts, {{.DraftCount}} drafts, {{.NewCount}} new, {{.UpdatedCount}} updated, {{.UnchangedCount}} unchanged, {{.ReviewCount}} flagged for review{{if .Err}} (error: {{.Err}}){{end}}
{{end}}
`

// emitOutputs writes reports/<run_id>/daily_brief.md and
// opportunities_delta.json.
func (o *Orchestrator) emitOutputs(report RunReport, deltas []OpportunityDelta) error {
	dir := filepath.Join(o.ReportsRoot, report.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}

	tmpl, err := template.New("brief").Parse(briefTemplate)
	if err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}
	briefPath := filepath.Join(dir, "daily_brief.md")
	f, err := os.Create(briefPath)
	if err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}
	if err := tmpl.Execute(f, report); err != nil {
		f.Close()
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}
	if err := f.Close(); err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}

	deltaPath := filepath.Join(dir, "opportunities_delta.json")
	counts := map[string]int{}
	for _, d := range deltas {
		counts[d.Change]++
	}
	payload := map[string]interface{}{
		"run_id": report.RunID,
		"counts": counts,
		"items":  deltas,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}
	if err := os.WriteFile(deltaPath, data, 0o644); err != nil {
		return rherr.New(rherr.Storage, "sync.emitOutputs", err)
	}

	return nil
}

// NewSnapshotFunc adapts snapshot.Export into the Orchestrator.Snapshot
// hook, binding the pool and reports root once at wiring time.
func NewSnapshotFunc(exportFn func(ctx context.Context, reportsRoot, runID string) (snapshot.Manifest, error), reportsRoot string) func(context.Context, string) error {
	return func(ctx context.Context, runID string) error {
		_, err := exportFn(ctx, reportsRoot, runID)
		return err
	}
}
