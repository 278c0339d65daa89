package model

import "testing"

func TestCanonicalKeyPrefersApplyURL(t *testing.T) {
	applyURL := "HTTPS://Jobs.Example.invalid/listing/42/"
	title := "Senior Engineer"
	company := "Acme"
	d := OpportunityDraft{
		SourceID: "remoteboard-sample",
		ApplyURL: Field[string]{Value: &applyURL},
		Title:    Field[string]{Value: &title},
		Company:  Field[string]{Value: &company},
	}

	key := CanonicalKey(d)
	want := "remoteboard-sample|https://jobs.example.invalid/listing/42"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestCanonicalKeyNormalizesURLEquivalents(t *testing.T) {
	a := "https://jobs.example.invalid/listing/42/"
	b := "https://jobs.example.invalid/listing/42#apply"
	da := OpportunityDraft{SourceID: "s", ApplyURL: Field[string]{Value: &a}}
	db := OpportunityDraft{SourceID: "s", ApplyURL: Field[string]{Value: &b}}

	if CanonicalKey(da) != CanonicalKey(db) {
		t.Fatalf("expected equivalent URLs to collapse to the same key: %q vs %q", CanonicalKey(da), CanonicalKey(db))
	}
}

func TestCanonicalKeyFallsBackToTitleCompany(t *testing.T) {
	title := "  Senior   Engineer "
	company := "Acme Corp"
	d := OpportunityDraft{SourceID: "s", Title: Field[string]{Value: &title}, Company: Field[string]{Value: &company}}

	key := CanonicalKey(d)
	want := "s|senior engineer|acme corp"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestValidCrawlability(t *testing.T) {
	for _, c := range []string{"PublicHtml", "Api", "Rss", "Gated", "ManualOnly"} {
		if !ValidCrawlability(c) {
			t.Errorf("expected %q to be valid", c)
		}
	}
	if ValidCrawlability("Bogus") {
		t.Fatal("expected Bogus to be invalid")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %s vs %s", h1, h2)
	}
	if h1 == ContentHash([]byte("hello!")) {
		t.Fatal("expected different content to hash differently")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}
