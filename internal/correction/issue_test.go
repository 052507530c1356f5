package correction

import (
	"testing"
)

func TestNormalizeDedupesAndSorts(t *testing.T) {
	issues := []Issue{
		{Severity: "warning", Message: "unconnected pin U1.7"},
		{Severity: "error", Message: "no driver on net RESET"},
		{Severity: "warning", Message: "unconnected pin U1.7"},
	}

	norm := Normalize(issues)
	if len(norm) != 2 {
		t.Fatalf("expected 2 issues after dedupe, got %d", len(norm))
	}
	if norm[0].Severity != "error" {
		t.Errorf("expected error sorted first, got %q", norm[0].Severity)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	issues := []Issue{
		{Severity: "warning", Message: "b"},
		{Severity: "error", Message: "a"},
	}
	Normalize(issues)
	if issues[0].Severity != "warning" {
		t.Error("input slice was reordered")
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := []Issue{
		{Severity: "error", Message: "no driver on net RESET"},
		{Severity: "warning", Message: "unconnected pin U1.7"},
	}
	b := []Issue{
		{Severity: "warning", Message: "unconnected pin U1.7"},
		{Severity: "error", Message: "no driver on net RESET"},
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint changed with issue order")
	}
}

func TestFingerprintIgnoresDuplicatesAndWhitespace(t *testing.T) {
	a := []Issue{
		{Severity: "error", Message: "no driver   on net\tRESET"},
		{Severity: "error", Message: "no driver on net RESET"},
	}
	b := []Issue{
		{Severity: "error", Message: "no driver on net RESET"},
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("duplicate or reformatted issues changed the fingerprint")
	}
}

func TestFingerprintDistinguishesSets(t *testing.T) {
	a := []Issue{{Severity: "error", Message: "no driver on net RESET"}}
	b := []Issue{{Severity: "error", Message: "no driver on net VCC"}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different issue sets produced the same fingerprint")
	}
	if Fingerprint(nil) == Fingerprint(a) {
		t.Error("empty set collided with a non-empty set")
	}
}

func TestCount(t *testing.T) {
	issues := []Issue{
		{Severity: "error", Message: "x"},
		{Severity: "warning", Message: "y"},
		{Severity: "warning", Message: "z"},
	}
	errs, warns := Count(issues)
	if errs != 1 || warns != 2 {
		t.Errorf("Count = (%d, %d), want (1, 2)", errs, warns)
	}
}
