package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/circuitsmith/circuitsmith/internal/config"
	"github.com/circuitsmith/circuitsmith/internal/container"
	"github.com/circuitsmith/circuitsmith/internal/correction"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
)

// fakeAgents scripts the reasoning service by output type. Corrections are
// consumed from a queue in order.
type fakeAgents struct {
	corrections  []CorrectionResult
	correctCalls int
}

func (f *fakeAgents) Execute(ctx context.Context, instructions string, input map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch v := out.(type) {
	case *PlanResult:
		*v = PlanResult{Summary: "regulator", Steps: []string{"power", "output"}}
	case *DiscoveryResult:
		*v = DiscoveryResult{Libraries: []string{"Device"}, Parts: []PartRef{{Library: "Device", Name: "R"}}}
	case *SelectionResult:
		*v = SelectionResult{Components: []Component{{Ref: "R1", Library: "Device", Part: "R", Value: "10k"}}}
	case *DesignDoc:
		*v = DesignDoc{Markdown: "# design"}
	case *GeneratedScript:
		*v = GeneratedScript{Script: "print('v1')"}
	case *CorrectionResult:
		if f.correctCalls >= len(f.corrections) {
			return errors.New("no scripted correction left")
		}
		*v = f.corrections[f.correctCalls]
		f.correctCalls++
	default:
		return fmt.Errorf("unexpected output type %T", out)
	}
	return nil
}

type checkOut struct {
	stdout string
	stderr string
	exit   int
}

// fakeSession dispatches check commands to per-kind queues. A drained
// queue yields a clean result.
type fakeSession struct {
	validate []checkOut
	run      []checkOut
	erc      []checkOut

	artifacts []pipeline.ArtifactFile
	noCopy    bool

	started bool
	stopped bool
}

func (f *fakeSession) Name() string                    { return "smith-test" }
func (f *fakeSession) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeSession) Stop(ctx context.Context) error  { f.stopped = true; return nil }

func (f *fakeSession) Execute(ctx context.Context, command []string, timeout time.Duration) (*container.ExecResult, error) {
	cmd := command[len(command)-1]
	var queue *[]checkOut
	var clean checkOut
	switch {
	case strings.HasPrefix(cmd, "validate "):
		queue, clean = &f.validate, checkOut{}
	case strings.HasPrefix(cmd, "run "):
		queue, clean = &f.run, checkOut{stdout: "done\n"}
	case strings.HasPrefix(cmd, "erc "):
		queue, clean = &f.erc, checkOut{stdout: "0 errors found during ERC.\n0 warnings found during ERC.\n"}
	default:
		return nil, fmt.Errorf("unexpected command %q", cmd)
	}

	out := clean
	if len(*queue) > 0 {
		out = (*queue)[0]
		*queue = (*queue)[1:]
	}
	return &container.ExecResult{Stdout: out.stdout, Stderr: out.stderr, ExitCode: out.exit}, nil
}

func (f *fakeSession) CopyArtifacts(ctx context.Context, containerDir, hostDir string, before map[string]string) ([]pipeline.ArtifactFile, error) {
	if f.noCopy {
		return nil, nil
	}
	if f.artifacts != nil {
		return f.artifacts, nil
	}
	return []pipeline.ArtifactFile{{Path: "board.net", Size: 5, Hash: "abc123"}}, nil
}

type correctionRec struct {
	phase   string
	attempt int
}

type fakeRecorder struct {
	runEvents       []string
	corrections     []correctionRec
	containerEvents []string
}

func (r *fakeRecorder) LogRunEvent(ctx context.Context, runID, event, stage, detail string) error {
	r.runEvents = append(r.runEvents, event)
	return nil
}

func (r *fakeRecorder) LogCorrectionAttempt(ctx context.Context, runID, phase string, attempt int, fingerprint string, errors, warnings int, corrections []string) error {
	r.corrections = append(r.corrections, correctionRec{phase: phase, attempt: attempt})
	return nil
}

func (r *fakeRecorder) LogContainerEvent(ctx context.Context, name, runID, event, detail string) error {
	r.containerEvents = append(r.containerEvents, name+":"+event)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Service: config.Service{URL: "https://agents.test", Timeout: "5s"},
		Container: config.Container{
			Image:         "toolchain:test",
			NamePrefix:    "smith-",
			Workdir:       "/work",
			OutputDir:     "/work/out",
			HealthTimeout: "1s",
			ExecTimeout:   "5s",
		},
		Loops: config.Loops{MaxAttempts: 3, HardCap: 10},
		Commands: config.Commands{
			Validate: "validate {script}",
			Run:      "run {script}",
			ERC:      "erc {script}",
		},
	}
}

type harness struct {
	store    *pipeline.Store
	agents   *fakeAgents
	session  *fakeSession
	recorder *fakeRecorder
	orch     *Orchestrator
}

func newHarness(t *testing.T, cfg *config.Config, agents *fakeAgents, session *fakeSession) *harness {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())
	recorder := &fakeRecorder{}
	orch, err := New(Opts{
		Store:    store,
		Config:   cfg,
		Agents:   agents,
		Recorder: recorder,
		NewSession: func(c container.Config) (ExecSession, error) {
			return session, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{store: store, agents: agents, session: session, recorder: recorder, orch: orch}
}

func syntaxFail(msg string) checkOut {
	return checkOut{
		stderr: fmt.Sprintf("  File \"/work/gen.py\", line 2\nSyntaxError: %s\n", msg),
		exit:   1,
	}
}

func traceback(msg string) checkOut {
	return checkOut{
		stderr: fmt.Sprintf("Traceback (most recent call last):\n  File \"/work/gen.py\", line 3, in <module>\nRuntimeError: %s\n", msg),
		exit:   1,
	}
}

const ercWarningsOnly = "ERC WARNING: Unconnected pin U1.7.\n0 errors found during ERC.\n1 warning found during ERC.\n"
const ercOneError = "ERC ERROR: No driver on net RESET.\n1 error found during ERC.\n0 warnings found during ERC.\n"

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAgents{}, &fakeSession{})

	run, err := h.orch.Run(context.Background(), RunInput{Request: "design a 3.3V regulator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Script != "print('v1')" {
		t.Errorf("Script = %q", run.Script)
	}
	if len(run.StageHistory) != 9 {
		t.Errorf("StageHistory has %d entries, want 9: %+v", len(run.StageHistory), run.StageHistory)
	}
	if !h.session.started || !h.session.stopped {
		t.Errorf("session lifecycle: started=%v stopped=%v", h.session.started, h.session.stopped)
	}

	m, err := h.store.GetManifest(run.ID)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "board.net" {
		t.Errorf("manifest files = %+v", m.Files)
	}
	if m.Approval != nil {
		t.Error("clean run should carry no approval")
	}

	// The generated script lands in the mounted workspace.
	entries, err := os.ReadDir(h.store.WorkspaceDir(run.ID))
	if err != nil || len(entries) != 1 {
		t.Fatalf("workspace: %v, %d entries", err, len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "gen_") {
		t.Errorf("script name = %q", entries[0].Name())
	}
}

func TestRunStaticCorrectionRecovers(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "print('v2')", Corrections: []string{"closed paren"}},
	}}
	session := &fakeSession{validate: []checkOut{syntaxFail("'(' was never closed")}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Script != "print('v2')" {
		t.Errorf("corrected script not persisted: %q", run.Script)
	}

	data, err := os.ReadFile(filepath.Join(h.store.WorkspaceDir(run.ID), fmt.Sprintf("gen_%s.py", shortID(run.ID))))
	if err != nil || string(data) != "print('v2')" {
		t.Errorf("workspace script = %q, %v", data, err)
	}

	if len(h.recorder.corrections) != 1 {
		t.Fatalf("recorded %d correction attempts, want 1", len(h.recorder.corrections))
	}
	if rec := h.recorder.corrections[0]; rec.phase != "static" || rec.attempt != 1 {
		t.Errorf("recorded attempt = %+v", rec)
	}
}

func TestRunMaxAttemptsExceeded(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "v2"}, {Script: "v3"}, {Script: "v4"},
	}}
	// Four distinct failures: no stagnation, the per-phase bound is what
	// stops the loop.
	session := &fakeSession{validate: []checkOut{
		syntaxFail("bad 1"), syntaxFail("bad 2"), syntaxFail("bad 3"), syntaxFail("bad 4"),
	}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if run.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *PipelineError", err)
	}
	if perr.Reason != ReasonMaxAttempts || perr.Phase != correction.PhaseStatic {
		t.Errorf("reason/phase = %s/%s, want max_attempts/static", perr.Reason, perr.Phase)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Error("PipelineError should wrap a *ValidationError")
	}
	if agents.correctCalls != 3 {
		t.Errorf("correctCalls = %d, want 3", agents.correctCalls)
	}
}

func TestRunStagnationStopsEarly(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "v2"}, {Script: "v3"},
	}}
	// The same traceback three times: stop after the second recorded
	// attempt, before the bound of three.
	same := traceback("boom")
	session := &fakeSession{run: []checkOut{same, same, same}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if run.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s", run.Status)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if perr.Reason != ReasonStagnation || perr.Phase != correction.PhaseRuntime {
		t.Errorf("reason/phase = %s/%s, want stagnation/runtime", perr.Reason, perr.Phase)
	}
	var rerr *RuntimeExecutionError
	if !errors.As(err, &rerr) {
		t.Error("PipelineError should wrap a *RuntimeExecutionError")
	}
	if agents.correctCalls != 2 {
		t.Errorf("correctCalls = %d, want 2 (stopped before the bound)", agents.correctCalls)
	}
}

func TestRunHardCapBacksUpLooseBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.MaxAttempts = 100
	cfg.Loops.HardCap = 3

	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "v2"}, {Script: "v3"}, {Script: "v4"},
	}}
	session := &fakeSession{validate: []checkOut{
		syntaxFail("bad 1"), syntaxFail("bad 2"), syntaxFail("bad 3"),
	}}
	h := newHarness(t, cfg, agents, session)

	_, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("expected failure")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if perr.Reason != ReasonSafetyCap {
		t.Errorf("Reason = %s, want safety_cap", perr.Reason)
	}
}

func TestRunDomainWarningsApproved(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Approved: true, Rationale: "antenna net floats by design"},
	}}
	session := &fakeSession{erc: []checkOut{{stdout: ercWarningsOnly}}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Approval == nil || run.Approval.Rationale != "antenna net floats by design" {
		t.Errorf("run approval = %+v", run.Approval)
	}

	m, err := h.store.GetManifest(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Approval == nil || m.Approval.Rationale != "antenna net floats by design" {
		t.Errorf("manifest approval = %+v, caveats must not be dropped", m.Approval)
	}
}

func TestRunDomainUnapprovedWarningsFail(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "v2"}, {Script: "v3"},
	}}
	w := checkOut{stdout: ercWarningsOnly}
	session := &fakeSession{erc: []checkOut{w, w, w}}
	h := newHarness(t, testConfig(), agents, session)

	_, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("expected failure")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if !perr.WarningsUnapproved {
		t.Error("warnings-only failure should be flagged as unapproved")
	}
	var derr *DomainRuleError
	if !errors.As(err, &derr) {
		t.Fatal("should wrap a *DomainRuleError")
	}
	if derr.Errors != 0 || derr.Warnings != 1 {
		t.Errorf("DomainRuleError counts = %d/%d", derr.Errors, derr.Warnings)
	}
}

func TestRunApprovalNeverCoversErrors(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Approved: true, Rationale: "looks fine to me"},
	}}
	session := &fakeSession{erc: []checkOut{{stdout: ercOneError}}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("approving errors must fail the run")
	}
	if run.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s", run.Status)
	}
}

func TestRunERCCrashRoutesToRuntimeCorrector(t *testing.T) {
	agents := &fakeAgents{corrections: []CorrectionResult{
		{Script: "v2", Corrections: []string{"guard missing part"}},
	}}
	session := &fakeSession{erc: []checkOut{traceback("boom during erc")}}
	h := newHarness(t, testConfig(), agents, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s", run.Status)
	}
	if len(h.recorder.corrections) != 1 || h.recorder.corrections[0].phase != "runtime" {
		t.Errorf("crash during rule check should hit the runtime ledger, got %+v", h.recorder.corrections)
	}
}

func TestRunNoArtifactsFails(t *testing.T) {
	session := &fakeSession{noCopy: true}
	h := newHarness(t, testConfig(), &fakeAgents{}, session)

	run, err := h.orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("a run without artifacts must fail")
	}
	if run.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s", run.Status)
	}
	if run.CurrentStage != pipeline.StageFinalize {
		t.Errorf("CurrentStage = %s, want finalize", run.CurrentStage)
	}
}

// stubRunner records removals so reap behavior is observable.
type stubRunner struct {
	listed  []string
	removed []string
}

func (r *stubRunner) Create(context.Context, string, string, []container.Mount) error { return nil }
func (r *stubRunner) Start(context.Context, string) error                             { return nil }
func (r *stubRunner) Exec(context.Context, string, []string) (string, string, int, error) {
	return "", "", 0, nil
}
func (r *stubRunner) CopyFrom(context.Context, string, string, string) error { return nil }
func (r *stubRunner) Stop(context.Context, string) error                     { return nil }
func (r *stubRunner) Remove(ctx context.Context, name string, force bool) error {
	r.removed = append(r.removed, name)
	return nil
}
func (r *stubRunner) List(context.Context, string) ([]string, error) { return r.listed, nil }
func (r *stubRunner) Exists(context.Context, string) (bool, error)   { return false, nil }

func TestRunReapsStaleContainersAtStartup(t *testing.T) {
	runner := &stubRunner{listed: []string{"smith-0ddba11c"}}
	recorder := &fakeRecorder{}
	session := &fakeSession{}
	orch, err := New(Opts{
		Store:    pipeline.NewStore(t.TempDir()),
		Config:   testConfig(),
		Agents:   &fakeAgents{},
		Runner:   runner,
		Recorder: recorder,
		NewSession: func(c container.Config) (ExecSession, error) {
			return session, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := orch.Run(context.Background(), RunInput{Request: "regulator"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s", run.Status)
	}
	if len(runner.removed) != 1 || runner.removed[0] != "smith-0ddba11c" {
		t.Errorf("stale container not reaped at startup: removed = %v", runner.removed)
	}

	var logged bool
	for _, e := range recorder.containerEvents {
		if e == "smith-0ddba11c:reaped" {
			logged = true
		}
	}
	if !logged {
		t.Errorf("reap not recorded in ledger: %v", recorder.containerEvents)
	}
}

func TestRunCancellationAborts(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAgents{}, &fakeSession{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.orch.Run(ctx, RunInput{Request: "regulator"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if run.Status != pipeline.StatusAborted {
		t.Errorf("Status = %s, want aborted", run.Status)
	}
}

func TestRunEmptyRequestRejected(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAgents{}, &fakeSession{})
	if _, err := h.orch.Run(context.Background(), RunInput{Request: "  "}); err == nil {
		t.Error("blank request should be rejected before a run is created")
	}
}

func TestRunTitleDerivedFromRequest(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAgents{}, &fakeSession{})
	run, err := h.orch.Run(context.Background(), RunInput{Request: "first line\nsecond line"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Title != "first line" {
		t.Errorf("Title = %q", run.Title)
	}
}
