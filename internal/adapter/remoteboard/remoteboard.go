// Package remoteboard implements a generic PublicHtml listing adapter:
// a registry-configured container/title/link/location/description
// selector set walked with goquery against remote-work listing fields.
package remoteboard

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/someflydev/rhof/internal/adapter"
	"github.com/someflydev/rhof/internal/fetch"
	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rherr"
)

const ExtractorVersion = 1

// Adapter walks a configured listing page and extracts one draft per
// matched container. The orchestrator runs one source at a time
// (single-writer, sequential-by-source), so caching the active source's
// selectors between Fetch and Parse is safe.
type Adapter struct {
	sourceID string
	fetcher  *fetch.Fetcher
	sanitize *bluemonday.Policy
	selectors registry.SelectorConfig
}

// New returns a remoteboard adapter for sourceID, fetching through f.
func New(sourceID string, f *fetch.Fetcher) *Adapter {
	return &Adapter{sourceID: sourceID, fetcher: f, sanitize: bluemonday.StrictPolicy()}
}

func (a *Adapter) SourceID() string                 { return a.sourceID }
func (a *Adapter) Crawlability() model.Crawlability { return model.CrawlPublicHTML }
func (a *Adapter) ExtractorVersion() int            { return ExtractorVersion }

func (a *Adapter) Fetch(ctx context.Context, cfg registry.SourceConfig) ([]adapter.RawArtifact, error) {
	if cfg.BaseURL == "" {
		return nil, rherr.New(rherr.SchemaViolation, "remoteboard.Fetch", fmt.Errorf("%s: missing base_url", a.sourceID))
	}
	if cfg.Selectors.Container == "" {
		return nil, rherr.New(rherr.SchemaViolation, "remoteboard.Fetch", fmt.Errorf("%s: selectors.container is required", a.sourceID))
	}
	a.selectors = cfg.Selectors

	res, err := a.fetcher.Fetch(ctx, a.sourceID, cfg.BaseURL, cfg.Fetch)
	if err != nil {
		return nil, err
	}
	return []adapter.RawArtifact{{
		ArtifactID:  res.Artifact.ID,
		SourceURL:   cfg.BaseURL,
		ContentType: res.Artifact.ContentType,
		ContentHash: res.Artifact.ContentHash,
		StoragePath: res.Artifact.StoragePath,
		ByteSize:    res.Artifact.ByteSize,
		FetchedAt:   res.FetchedAt,
	}}, nil
}

// Parse extracts one draft per matched listing container using the
// selectors captured by the preceding Fetch call.
func (a *Adapter) Parse(artifactBytes []byte, sourceURL, artifactID string) ([]model.OpportunityDraft, error) {
	return a.parse(a.selectors, artifactBytes, sourceURL, artifactID, time.Now().UTC())
}

// ParseWithConfig is the fixture-mode entrypoint: it lets the
// orchestrator supply selectors and a fixed timestamp explicitly,
// without requiring a live Fetch call first.
func (a *Adapter) ParseWithConfig(cfg registry.SourceConfig, artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	return a.parse(cfg.Selectors, artifactBytes, sourceURL, artifactID, fetchedAt)
}

func (a *Adapter) parse(sel registry.SelectorConfig, artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	if sel.Container == "" {
		return nil, rherr.New(rherr.SchemaViolation, "remoteboard.parse",
			fmt.Errorf("%s: selectors.container is required", a.sourceID))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(artifactBytes)))
	if err != nil {
		return nil, rherr.New(rherr.ParseError, "remoteboard.ParseWithConfig", err)
	}

	eb := adapter.EvidenceBuilder{
		ArtifactID:       artifactID,
		SourceURL:        sourceURL,
		FetchedAt:        fetchedAt,
		ExtractorVersion: ExtractorVersion,
	}

	var drafts []model.OpportunityDraft
	var parseErr error

	doc.Find(sel.Container).EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find(sel.Title).Text())
		if title == "" {
			return true
		}

		linkAttr := sel.LinkAttr
		if linkAttr == "" {
			linkAttr = "href"
		}
		var link string
		if sel.Link == "" || sel.Link == "." {
			link, _ = s.Attr(linkAttr)
		} else {
			link, _ = s.Find(sel.Link).Attr(linkAttr)
		}
		link = strings.TrimSpace(link)
		if link == "" {
			return true
		}

		applyURL, rerr := resolveURL(sourceURL, link)
		if rerr != nil {
			parseErr = rherr.New(rherr.ParseError, "remoteboard.ParseWithConfig", rerr)
			return false
		}

		d := model.OpportunityDraft{
			SourceID:      a.sourceID,
			SourceURL:     sourceURL,
			FetchedAt:     fetchedAt,
			RawArtifactID: artifactID,
			Title:         model.NewField(title, eb.Ref(sel.Title, title)),
			ApplyURL:      model.NewField(applyURL, eb.Ref(sel.Link, link)),
			RawExtras:     map[string]model.Field[string]{},
		}

		if sel.Company != "" {
			if v := strings.TrimSpace(s.Find(sel.Company).Text()); v != "" {
				d.Company = model.NewField(v, eb.Ref(sel.Company, v))
			}
		}
		if sel.Location != "" {
			if v := strings.TrimSpace(s.Find(sel.Location).Text()); v != "" {
				d.Location = model.NewField(v, eb.Ref(sel.Location, v))
				d.RemoteKind = model.NewField(classifyRemoteKind(v), eb.Ref(sel.Location, v))
			}
		}
		if sel.Description != "" {
			if html, herr := s.Find(sel.Description).Html(); herr == nil {
				clean := strings.TrimSpace(a.sanitize.Sanitize(html))
				if clean != "" {
					d.Description = model.NewField(clean, eb.Ref(sel.Description, clean))
				}
			}
		}
		if sel.PostedAt != "" {
			if t, snippet, ok := parsePostedAt(s.Find(sel.PostedAt)); ok {
				d.PostedAt = model.NewField(t, eb.Ref(sel.PostedAt, snippet))
			}
		}

		drafts = append(drafts, d)
		return true
	})

	if parseErr != nil {
		return nil, parseErr
	}
	return drafts, nil
}

func resolveURL(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// parsePostedAt reads a posted-at timestamp from sel, preferring a
// "datetime" attribute (the usual home for a machine-readable date on a
// <time> element) and falling back to the element's own text.
func parsePostedAt(sel *goquery.Selection) (time.Time, string, bool) {
	if sel.Length() == 0 {
		return time.Time{}, "", false
	}
	text := strings.TrimSpace(sel.Text())
	raw, hasAttr := sel.Attr("datetime")
	raw = strings.TrimSpace(raw)
	if !hasAttr || raw == "" {
		raw = text
	}
	if raw == "" {
		return time.Time{}, "", false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			snippet := text
			if snippet == "" {
				snippet = raw
			}
			return t, snippet, true
		}
	}
	return time.Time{}, "", false
}

func classifyRemoteKind(location string) model.RemoteKind {
	l := strings.ToLower(location)
	switch {
	case strings.Contains(l, "remote") || strings.Contains(l, "anywhere") || strings.Contains(l, "worldwide"):
		return model.RemoteFullyRemote
	case strings.Contains(l, "hybrid"):
		return model.RemoteHybrid
	case l == "":
		return model.RemoteUnknown
	default:
		return model.RemoteOnsite
	}
}
