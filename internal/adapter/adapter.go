// Package adapter defines the capability contract every source
// extractor satisfies, plus the framework helpers (fixture replay,
// evidence building) shared across adapters so each implementation
// only carries its own selector/parsing logic.
package adapter

import (
	"context"
	"time"

	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
)

// RawArtifact is what Fetch returns: a pointer to bytes already placed
// in the Artifact Store, not the bytes themselves.
type RawArtifact struct {
	ArtifactID  string
	SourceURL   string
	ContentType string
	ContentHash string
	StoragePath string
	ByteSize    int64
	FetchedAt   time.Time
}

// Adapter is the capability set a source extractor implements. There is
// no base class to inherit from: the orchestrator holds a table of
// these keyed by source_id (see Table in this package).
type Adapter interface {
	SourceID() string
	Crawlability() model.Crawlability
	// Fetch acquires raw documents for the source. It may be a no-op
	// returning an empty slice for ManualOnly sources.
	Fetch(ctx context.Context, cfg registry.SourceConfig) ([]RawArtifact, error)
	// Parse turns one artifact's bytes into zero or more drafts.
	Parse(artifactBytes []byte, sourceURL, artifactID string) ([]model.OpportunityDraft, error)
	ExtractorVersion() int
}

// Table is a source_id-keyed registry of constructed adapters.
type Table struct {
	byID map[string]Adapter
}

// NewTable builds a Table from the given adapters, keyed by SourceID.
func NewTable(adapters ...Adapter) *Table {
	t := &Table{byID: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		t.byID[a.SourceID()] = a
	}
	return t
}

// Get returns the adapter registered for sourceID, if any.
func (t *Table) Get(sourceID string) (Adapter, bool) {
	a, ok := t.byID[sourceID]
	return a, ok
}
