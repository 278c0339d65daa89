package model

import "testing"

func TestFieldPopulated(t *testing.T) {
	var empty Field[string]
	if empty.Populated() {
		t.Fatal("zero-value Field reported populated")
	}

	ev := EvidenceRef{SourceURL: "https://example.invalid"}
	f := NewField("hello", ev)
	if !f.Populated() {
		t.Fatal("NewField result reported unpopulated")
	}
	if !f.HasEvidence() {
		t.Fatal("NewField result reported no evidence")
	}
	if *f.Value != "hello" {
		t.Fatalf("expected value hello, got %v", *f.Value)
	}
}

func TestFieldWithoutEvidence(t *testing.T) {
	v := "x"
	f := Field[string]{Value: &v}
	if !f.Populated() {
		t.Fatal("expected populated")
	}
	if f.HasEvidence() {
		t.Fatal("expected no evidence on a bare Field literal")
	}
}
