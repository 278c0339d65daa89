package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// RemoteKind enumerates how a listed opportunity is performed.
type RemoteKind string

const (
	RemoteFullyRemote RemoteKind = "fully_remote"
	RemoteHybrid      RemoteKind = "hybrid"
	RemoteOnsite      RemoteKind = "onsite"
	RemoteUnknown     RemoteKind = "unknown"
)

// Crawlability declares how a source may legally/technically be accessed.
type Crawlability string

const (
	CrawlPublicHTML Crawlability = "PublicHtml"
	CrawlAPI        Crawlability = "Api"
	CrawlRSS        Crawlability = "Rss"
	CrawlGated      Crawlability = "Gated"
	CrawlManualOnly Crawlability = "ManualOnly"
)

var validCrawlability = map[Crawlability]bool{
	CrawlPublicHTML: true,
	CrawlAPI:        true,
	CrawlRSS:        true,
	CrawlGated:      true,
	CrawlManualOnly: true,
}

// ValidCrawlability reports whether s names a known crawlability mode.
func ValidCrawlability(s string) bool {
	return validCrawlability[Crawlability(s)]
}

// PayRange is the structured pay field of an OpportunityDraft.
type PayRange struct {
	Currency string   `json:"currency,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Unit     string   `json:"unit,omitempty"` // year|hour|month|day|project
}

// DedupDecision is the outcome the Dedup Engine attaches to a draft.
type DedupDecision struct {
	Kind        string `json:"kind"` // new|merged_into|review_required
	MergedIntoID string `json:"merged_into_id,omitempty"`
}

const (
	DedupNew            = "new"
	DedupMergedInto     = "merged_into"
	DedupReviewRequired = "review_required"
)

// RiskFlag is an enrichment output attached to a draft.
type RiskFlag struct {
	Key      string `json:"key"`
	Severity string `json:"severity"`
	Reason   string `json:"reason,omitempty"`
}

// OpportunityDraft is the transient, pre-persistence record an adapter's
// parse() produces. Canonical fields carry provenance; adapter-specific
// extras live in RawExtras.
type OpportunityDraft struct {
	SourceID  string
	SourceURL string
	FetchedAt time.Time

	Title       Field[string]
	Company     Field[string]
	Location    Field[string]
	RemoteKind  Field[RemoteKind]
	PayRange    Field[PayRange]
	ApplyURL    Field[string]
	Description Field[string]
	PostedAt    Field[time.Time]

	RawExtras map[string]Field[string]

	// Annotations attached by hooks during a sync run. Not part of the
	// adapter contract; the orchestrator populates these after parse.
	Dedup       DedupDecision
	Tags        []string
	RiskFlags   []RiskFlag
	RawArtifactID string
}

// CanonicalKey derives the deterministic natural key used for upsert:
// source_id + normalized apply_url, falling back to title+company when
// apply_url is absent.
func CanonicalKey(d OpportunityDraft) string {
	if d.ApplyURL.Populated() && strings.TrimSpace(*d.ApplyURL.Value) != "" {
		return d.SourceID + "|" + normalizeURL(*d.ApplyURL.Value)
	}
	title := ""
	if d.Title.Populated() {
		title = normalizeText(*d.Title.Value)
	}
	company := ""
	if d.Company.Populated() {
		company = normalizeText(*d.Company.Value)
	}
	return d.SourceID + "|" + title + "|" + company
}

// normalizeURL lower-cases scheme/host, drops a trailing slash and any
// fragment, so equivalent URLs collapse to the same canonical key.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ContentHash returns the hex SHA-256 digest of raw bytes, used by the
// Artifact Store for content addressing.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
