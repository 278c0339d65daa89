// Package registry loads and validates the set of configured sources,
// the single source of truth adapters and the orchestrator both read
// from before a sync run is allowed to start.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/rherr"
)

// FetchConfig tunes the Fetcher's per-source behavior. TimeoutSeconds
// and ProxyURL are parsed but not read by the Fetcher, which uses a
// fixed 30-second client timeout and the environment's proxy settings.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int     `yaml:"max_retries,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
	Burst          int     `yaml:"burst,omitempty"`
	MaxConcurrency int64   `yaml:"max_concurrency,omitempty"`
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	UserAgent      string  `yaml:"user_agent,omitempty"`
}

// SelectorConfig configures a goquery-based HTML listing adapter.
type SelectorConfig struct {
	Container   string `yaml:"container,omitempty"`
	Title       string `yaml:"title,omitempty"`
	Link        string `yaml:"link,omitempty"`
	LinkAttr    string `yaml:"link_attr,omitempty"`
	Company     string `yaml:"company,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Description string `yaml:"description,omitempty"`
	PostedAt    string `yaml:"posted_at,omitempty"`
}

// SourceConfig describes one ingestible source.
type SourceConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Crawlability string            `yaml:"crawlability"`
	Enabled      bool              `yaml:"enabled"`
	BaseURL      string            `yaml:"base_url,omitempty"`
	SeedURLs     []string          `yaml:"seed_urls,omitempty"`
	ExtractorID  string            `yaml:"extractor_id"`
	Fetch        FetchConfig       `yaml:"fetch,omitempty"`
	Selectors    SelectorConfig    `yaml:"selectors,omitempty"`
	Extra        map[string]string `yaml:"extra,omitempty"`
}

// Registry is the validated set of configured sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
	byID    map[string]SourceConfig
}

// Load reads path, expands ${VAR} environment references (matching the
// teacher's registry loader), and validates the result before returning.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "registry.Load", err)
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "registry.Load", err)
	}

	if err := reg.validate(); err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "registry.Load", err)
	}

	return &reg, nil
}

func (r *Registry) validate() error {
	r.byID = make(map[string]SourceConfig, len(r.Sources))
	for _, s := range r.Sources {
		if s.ID == "" {
			return fmt.Errorf("source missing id")
		}
		if _, dup := r.byID[s.ID]; dup {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		if !model.ValidCrawlability(s.Crawlability) {
			return fmt.Errorf("source %q: invalid crawlability %q", s.ID, s.Crawlability)
		}
		if s.ExtractorID == "" {
			return fmt.Errorf("source %q: missing extractor_id", s.ID)
		}
		if s.Crawlability != string(model.CrawlManualOnly) && s.BaseURL == "" && len(s.SeedURLs) == 0 {
			return fmt.Errorf("source %q: crawlable source needs base_url or seed_urls", s.ID)
		}
		if s.Crawlability == string(model.CrawlPublicHTML) && s.Selectors.Container == "" {
			return fmt.Errorf("source %q: PublicHtml source needs selectors.container", s.ID)
		}
		r.byID[s.ID] = s
	}
	return nil
}

// Get returns the config for sourceID and whether it was found.
func (r *Registry) Get(sourceID string) (SourceConfig, bool) {
	c, ok := r.byID[sourceID]
	return c, ok
}

// All returns every configured source, in file order.
func (r *Registry) All() []SourceConfig {
	return r.Sources
}
