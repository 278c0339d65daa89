package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/someflydev/rhof/internal/artifact"
	"github.com/someflydev/rhof/internal/rherr"
)

// RawArtifactDescriptor is one entry in a fixture bundle's raw_artifacts
// list: a pointer to a file under the bundle's raw/ directory.
type RawArtifactDescriptor struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash,omitempty"`
	SourceURL   string `json:"source_url"`
}

// RecordFixture is an optional pre-parsed draft shipped alongside raw
// bytes, used by adapters whose extraction is itself fixture data
// rather than something parse() recomputes (e.g. manualfeed).
type RecordFixture struct {
	Title       FieldFixture            `json:"title"`
	Company     FieldFixture            `json:"company"`
	Location    FieldFixture            `json:"location"`
	RemoteKind  FieldFixture            `json:"remote_kind"`
	PayRange    FieldFixture            `json:"pay_range"`
	ApplyURL    FieldFixture            `json:"apply_url"`
	Description FieldFixture            `json:"description"`
	PostedAt    FieldFixture            `json:"posted_at"`
	RawExtras   map[string]FieldFixture `json:"raw_extras,omitempty"`
}

// FieldFixture is the wire shape of a Field[T] inside a bundle file.
type FieldFixture struct {
	Value    json.RawMessage    `json:"value,omitempty"`
	Evidence *EvidenceFixture   `json:"evidence,omitempty"`
}

// EvidenceFixture mirrors model.EvidenceRef in bundle JSON.
type EvidenceFixture struct {
	RawArtifactID     string    `json:"raw_artifact_id"`
	SourceURL         string    `json:"source_url"`
	SelectorOrPointer string    `json:"selector_or_pointer,omitempty"`
	Snippet           string    `json:"snippet,omitempty"`
	FetchedAt         time.Time `json:"fetched_at"`
	ExtractorVersion  int       `json:"extractor_version"`
}

// Bundle is the unified fixture/manual bundle schema.
type Bundle struct {
	SourceID         string                  `json:"source_id"`
	FixtureID        string                  `json:"fixture_id"`
	CapturedAt       time.Time               `json:"captured_at"`
	ExtractorVersion int                     `json:"extractor_version"`
	RawArtifacts     []RawArtifactDescriptor `json:"raw_artifacts"`
	Records          []RecordFixture         `json:"records,omitempty"`

	dir string
}

// LoadBundle reads bundle.json at path and resolves its raw/ siblings
// relative to path's directory.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "adapter.LoadBundle", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "adapter.LoadBundle", err)
	}
	if b.SourceID == "" || b.FixtureID == "" {
		return nil, rherr.New(rherr.SchemaViolation, "adapter.LoadBundle",
			fmt.Errorf("%s: missing source_id or fixture_id", path))
	}
	b.dir = filepath.Dir(path)
	return &b, nil
}

// RawBytes returns the raw bytes for descriptor d, resolved relative to
// the bundle's directory (raw/<path>).
func (b *Bundle) RawBytes(d RawArtifactDescriptor) ([]byte, error) {
	full := filepath.Join(b.dir, "raw", d.Path)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "adapter.RawBytes", err)
	}
	return data, nil
}

// Replay places every raw artifact in the bundle into store under
// deterministic, fixture-derived artifact IDs that do not incorporate
// extractor_version, so an extractor bump never invalidates idempotency
// across fixture replays. It returns the resulting RawArtifact
// placements in bundle order.
func (b *Bundle) Replay(store *artifact.Store) ([]RawArtifact, error) {
	out := make([]RawArtifact, 0, len(b.RawArtifacts))
	for _, d := range b.RawArtifacts {
		raw, err := b.RawBytes(d)
		if err != nil {
			return nil, err
		}
		fixturePath := filepath.Join(b.SourceID, b.FixtureID, d.Path)
		meta, err := store.PutDeterministic(b.SourceID, fixturePath, d.SourceURL, d.ContentType, raw, b.CapturedAt, filepath.Ext(d.Path))
		if err != nil {
			return nil, err
		}
		out = append(out, RawArtifact{
			ArtifactID:  meta.ID,
			SourceURL:   d.SourceURL,
			ContentType: d.ContentType,
			ContentHash: meta.ContentHash,
			StoragePath: meta.StoragePath,
			ByteSize:    meta.ByteSize,
			FetchedAt:   b.CapturedAt,
		})
	}
	return out, nil
}
