package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "sources.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadValidRegistry(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: remoteboard-sample
    name: Remote Board Sample
    crawlability: PublicHtml
    base_url: "https://jobs.example.invalid/remote"
    extractor_id: remoteboard
    selectors:
      container: "li.job-listing"
      title: "h2.job-title a"
  - id: weworkremotely
    name: We Work Remotely
    crawlability: ManualOnly
    extractor_id: manualfeed
`)

	reg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.All()) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(reg.All()))
	}
	cfg, ok := reg.Get("remoteboard-sample")
	if !ok {
		t.Fatal("expected remoteboard-sample to be found")
	}
	if cfg.Selectors.Container != "li.job-listing" {
		t.Fatalf("unexpected container selector: %q", cfg.Selectors.Container)
	}
	if _, ok := reg.Get("does-not-exist"); ok {
		t.Fatal("expected lookup miss for unknown id")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RHOF_TEST_TOKEN", "secret-value")
	p := writeRegistry(t, `
sources:
  - id: s1
    crawlability: PublicHtml
    base_url: "https://example.invalid"
    extractor_id: remoteboard
    selectors:
      container: "li"
    extra:
      token: "${RHOF_TEST_TOKEN}"
`)
	reg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, _ := reg.Get("s1")
	if cfg.Extra["token"] != "secret-value" {
		t.Fatalf("expected env var expansion, got %q", cfg.Extra["token"])
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: dup
    crawlability: ManualOnly
    extractor_id: manualfeed
  - id: dup
    crawlability: ManualOnly
    extractor_id: manualfeed
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestLoadRejectsInvalidCrawlability(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: s1
    crawlability: Telepathic
    extractor_id: manualfeed
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected invalid crawlability to be rejected")
	}
}

func TestLoadRejectsCrawlableWithoutURL(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: s1
    crawlability: PublicHtml
    extractor_id: remoteboard
    selectors:
      container: "li"
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected crawlable source without base_url/seed_urls to be rejected")
	}
}

func TestLoadRejectsPublicHTMLWithoutContainer(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: s1
    crawlability: PublicHtml
    base_url: "https://example.invalid"
    extractor_id: remoteboard
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected PublicHtml source without selectors.container to be rejected")
	}
}

func TestLoadRejectsMissingExtractorID(t *testing.T) {
	p := writeRegistry(t, `
sources:
  - id: s1
    crawlability: ManualOnly
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected missing extractor_id to be rejected")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected missing file to error")
	}
}
