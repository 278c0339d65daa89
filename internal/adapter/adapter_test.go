package adapter

import (
	"context"

	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
)

// fakeAdapter is a minimal Adapter used only to exercise Table wiring;
// it never fetches or parses anything real.
type fakeAdapter struct {
	id string
}

func (f fakeAdapter) SourceID() string                 { return f.id }
func (f fakeAdapter) Crawlability() model.Crawlability { return model.CrawlManualOnly }
func (f fakeAdapter) ExtractorVersion() int            { return 1 }
func (f fakeAdapter) Fetch(ctx context.Context, cfg registry.SourceConfig) ([]RawArtifact, error) {
	return nil, nil
}
func (f fakeAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string) ([]model.OpportunityDraft, error) {
	return nil, nil
}
