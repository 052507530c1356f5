package correction

import (
	"testing"
)

func TestShouldContinueMaxAttempts(t *testing.T) {
	c := NewContext(3)
	issues := func(msg string) []Issue {
		return []Issue{{Severity: "error", Message: msg}}
	}

	if !c.ShouldContinue(PhaseStatic) {
		t.Fatal("fresh context should allow attempts")
	}

	c.RecordAttempt(PhaseStatic, issues("a"), nil)
	c.RecordAttempt(PhaseStatic, issues("b"), nil)
	if !c.ShouldContinue(PhaseStatic) {
		t.Fatal("should continue at 2 of 3 attempts with changing issues")
	}

	c.RecordAttempt(PhaseStatic, issues("c"), nil)
	if c.ShouldContinue(PhaseStatic) {
		t.Error("should stop at max attempts")
	}
}

func TestShouldContinueStagnation(t *testing.T) {
	c := NewContext(3)
	same := []Issue{{Severity: "error", Message: "no driver on net RESET"}}

	c.RecordAttempt(PhaseRuntime, same, []string{"fix 1"})
	if !c.ShouldContinue(PhaseRuntime) {
		t.Fatal("one attempt cannot stagnate")
	}

	// Identical issue set on the second attempt: stop before the bound.
	c.RecordAttempt(PhaseRuntime, same, []string{"fix 2"})
	if c.ShouldContinue(PhaseRuntime) {
		t.Error("identical consecutive issue sets should stop the loop")
	}
	if c.AttemptCount(PhaseRuntime) != 2 {
		t.Errorf("AttemptCount = %d, want 2", c.AttemptCount(PhaseRuntime))
	}
}

func TestStagnationIgnoresOrderAndDuplicates(t *testing.T) {
	c := NewContext(5)
	c.RecordAttempt(PhaseDomain, []Issue{
		{Severity: "error", Message: "a"},
		{Severity: "warning", Message: "b"},
	}, nil)
	c.RecordAttempt(PhaseDomain, []Issue{
		{Severity: "warning", Message: "b"},
		{Severity: "error", Message: "a"},
		{Severity: "error", Message: "a"},
	}, nil)
	if c.ShouldContinue(PhaseDomain) {
		t.Error("reordered duplicate issues should still count as stagnation")
	}
}

func TestPhasesAreIndependent(t *testing.T) {
	c := NewContext(2)
	is := []Issue{{Severity: "error", Message: "x"}}
	c.RecordAttempt(PhaseStatic, is, nil)
	c.RecordAttempt(PhaseStatic, []Issue{{Severity: "error", Message: "y"}}, nil)

	if c.ShouldContinue(PhaseStatic) {
		t.Error("static phase should be exhausted")
	}
	if !c.ShouldContinue(PhaseRuntime) {
		t.Error("runtime phase should be untouched")
	}
	if c.AttemptCount(PhaseRuntime) != 0 {
		t.Errorf("runtime AttemptCount = %d, want 0", c.AttemptCount(PhaseRuntime))
	}
}

func TestLedgerIsAppendOnlyAndNumbered(t *testing.T) {
	c := NewContext(3)
	c.RecordAttempt(PhaseStatic, []Issue{{Severity: "error", Message: "a"}}, []string{"fixed a"})
	c.RecordAttempt(PhaseStatic, []Issue{{Severity: "error", Message: "b"}}, nil)

	attempts := c.Attempts(PhaseStatic)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Number != 1 || attempts[1].Number != 2 {
		t.Errorf("attempt numbers = %d, %d; want 1, 2", attempts[0].Number, attempts[1].Number)
	}
	if attempts[0].Fingerprint == "" {
		t.Error("attempt is missing its fingerprint")
	}

	// Mutating the returned copy must not affect the ledger.
	attempts[0].Corrections = nil
	if got := c.Attempts(PhaseStatic); len(got[0].Corrections) != 1 {
		t.Error("Attempts returned a live reference to the ledger")
	}
}

func TestHasNoIssues(t *testing.T) {
	c := NewContext(3)
	if c.HasNoIssues(PhaseDomain) {
		t.Error("no attempts recorded should not read as clean")
	}
	c.RecordAttempt(PhaseDomain, nil, nil)
	if !c.HasNoIssues(PhaseDomain) {
		t.Error("empty issue set should read as clean")
	}
}

func TestApproval(t *testing.T) {
	c := NewContext(3)
	if c.ApprovedWithCaveats(PhaseDomain) {
		t.Fatal("nothing approved yet")
	}
	c.Approve(PhaseDomain, "antenna net is intentionally floating")

	if !c.ApprovedWithCaveats(PhaseDomain) {
		t.Error("approval not recorded")
	}
	a := c.ApprovalFor(PhaseDomain)
	if a == nil || a.Rationale != "antenna net is intentionally floating" {
		t.Errorf("ApprovalFor = %+v, want recorded rationale", a)
	}
	if c.ApprovedWithCaveats(PhaseStatic) {
		t.Error("approval leaked into another phase")
	}
}

func TestDefaultMaxAttempts(t *testing.T) {
	c := NewContext(0)
	if c.MaxAttempts() != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", c.MaxAttempts(), DefaultMaxAttempts)
	}
}
