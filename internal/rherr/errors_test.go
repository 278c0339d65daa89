package rherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAndKindOf(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	wrapped := New(Transport, "fetch.Fetch", base)

	if !Is(wrapped, Transport) {
		t.Fatal("expected Is(wrapped, Transport) to be true")
	}
	if Is(wrapped, Storage) {
		t.Fatal("expected Is(wrapped, Storage) to be false")
	}
	if KindOf(wrapped) != Transport {
		t.Fatalf("expected Transport, got %s", KindOf(wrapped))
	}
	if KindOf(base) != "" {
		t.Fatalf("expected empty Kind for an untagged error, got %s", KindOf(base))
	}
}

func TestErrorUnwrapsForErrorsAs(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(Database, "store.UpsertOpportunity", base)
	outer := fmt.Errorf("upsert failed: %w", wrapped)

	var rerr *Error
	if !errors.As(outer, &rerr) {
		t.Fatal("expected errors.As to find the wrapped *Error")
	}
	if rerr.Kind != Database {
		t.Fatalf("expected Database, got %s", rerr.Kind)
	}
	if !errors.Is(outer, base) {
		t.Fatal("expected errors.Is to reach the root cause through Unwrap")
	}
}

func TestAbortsOnlyForSchemaViolation(t *testing.T) {
	cases := map[Kind]bool{
		SchemaViolation: true,
		Transport:       false,
		ParseError:      false,
		EvidenceMissing: false,
		Storage:         false,
		Database:        false,
		Cancelled:       false,
	}
	for k, want := range cases {
		if got := k.Aborts(); got != want {
			t.Errorf("%s.Aborts() = %v, want %v", k, got, want)
		}
	}
}
