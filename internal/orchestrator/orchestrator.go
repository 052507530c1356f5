// Package orchestrator drives a generation run through its stages: the
// reasoning stages that produce a circuit script, the three bounded
// check/correct cycles that validate it, and finalization.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/circuitsmith/circuitsmith/internal/checks"
	"github.com/circuitsmith/circuitsmith/internal/config"
	"github.com/circuitsmith/circuitsmith/internal/container"
	"github.com/circuitsmith/circuitsmith/internal/correction"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
	"github.com/circuitsmith/circuitsmith/internal/progress"
)

// AgentExecutor invokes the reasoning service and decodes its structured
// reply. Satisfied by *agent.Executor.
type AgentExecutor interface {
	Execute(ctx context.Context, instructions string, input map[string]any, out any) error
}

// ExecSession is the container session surface the orchestrator needs.
// Satisfied by *container.Session.
type ExecSession interface {
	Name() string
	Start(ctx context.Context) error
	Execute(ctx context.Context, command []string, timeout time.Duration) (*container.ExecResult, error)
	CopyArtifacts(ctx context.Context, containerDir, hostDir string, before map[string]string) ([]pipeline.ArtifactFile, error)
	Stop(ctx context.Context) error
}

// EventRecorder receives ledger events. Satisfied by *db.DB; runs work
// without a database through the nop recorder.
type EventRecorder interface {
	LogRunEvent(ctx context.Context, runID, event, stage, detail string) error
	LogCorrectionAttempt(ctx context.Context, runID, phase string, attempt int, fingerprint string, errors, warnings int, corrections []string) error
	LogContainerEvent(ctx context.Context, name, runID, event, detail string) error
}

type nopRecorder struct{}

func (nopRecorder) LogRunEvent(context.Context, string, string, string, string) error {
	return nil
}
func (nopRecorder) LogCorrectionAttempt(context.Context, string, string, int, string, int, int, []string) error {
	return nil
}
func (nopRecorder) LogContainerEvent(context.Context, string, string, string, string) error {
	return nil
}

// Opts configures an Orchestrator.
type Opts struct {
	Store  *pipeline.Store
	Config *config.Config
	Agents AgentExecutor

	// Runner backs the default session factory and the startup reap of
	// stale containers. Required unless NewSession is set.
	Runner container.DockerRunner

	// NewSession overrides session construction, for tests.
	NewSession func(cfg container.Config) (ExecSession, error)

	Recorder EventRecorder // optional
	Sink     progress.Sink // optional
	Logger   *zap.Logger   // optional
}

// Orchestrator drives runs. Each run is owned exclusively by the Run call
// executing it.
type Orchestrator struct {
	store      *pipeline.Store
	cfg        *config.Config
	agents     AgentExecutor
	runner     container.DockerRunner
	newSession func(cfg container.Config) (ExecSession, error)
	recorder   EventRecorder
	sink       progress.Sink
	logger     *zap.Logger
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("agent executor is required")
	}
	newSession := opts.NewSession
	if newSession == nil {
		if opts.Runner == nil {
			return nil, fmt.Errorf("docker runner is required")
		}
		runner := opts.Runner
		newSession = func(cfg container.Config) (ExecSession, error) {
			cfg.Runner = runner
			return container.NewSession(cfg)
		}
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = progress.NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      opts.Store,
		cfg:        opts.Config,
		agents:     opts.Agents,
		runner:     opts.Runner,
		newSession: newSession,
		recorder:   recorder,
		sink:       sink,
		logger:     logger,
	}, nil
}

// RunInput describes a new run. ID is optional; a UUID is assigned when
// empty.
type RunInput struct {
	ID      string
	Title   string
	Request string
}

// Run executes the full pipeline for one request and returns the final
// run state. On failure the returned error is a *PipelineError and the
// run is marked failed; on cancellation it is marked aborted.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (*pipeline.Run, error) {
	if strings.TrimSpace(input.Request) == "" {
		return nil, fmt.Errorf("request is required")
	}
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	title := input.Title
	if title == "" {
		title = truncateTitle(input.Request)
	}

	run, err := o.store.Create(id, title, input.Request)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("run", id))
	logger.Info("run started", zap.String("title", title))
	_ = o.recorder.LogRunEvent(ctx, id, "run_started", "", title)

	o.setStatus(id, pipeline.StatusInProgress)

	err = o.execute(ctx, run, logger)

	bgCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		o.setStatus(id, pipeline.StatusCompleted)
		_ = o.recorder.LogRunEvent(ctx, id, "run_completed", string(pipeline.StageFinalize), "")
		logger.Info("run completed")
	case errors.Is(err, context.Canceled) || isReason(err, ReasonCancelled):
		o.setStatus(id, pipeline.StatusAborted)
		_ = o.recorder.LogRunEvent(bgCtx, id, "run_aborted", string(run.CurrentStage), err.Error())
		logger.Warn("run aborted", zap.Error(err))
	default:
		o.setStatus(id, pipeline.StatusFailed)
		_ = o.recorder.LogRunEvent(bgCtx, id, "run_failed", string(run.CurrentStage), err.Error())
		logger.Error("run failed", zap.Error(err))
	}

	final, getErr := o.store.Get(id)
	if getErr != nil {
		final = run
	}
	return final, err
}

func (o *Orchestrator) execute(ctx context.Context, run *pipeline.Run, logger *zap.Logger) error {
	var (
		plan *PlanResult
		disc *DiscoveryResult
		sel  *SelectionResult
		doc  *DesignDoc
		gen  *GeneratedScript
	)

	reasoning := []struct {
		stage pipeline.Stage
		fn    func(ctx context.Context) error
	}{
		{pipeline.StagePlan, func(ctx context.Context) error {
			var err error
			plan, err = o.plan(ctx, run)
			return err
		}},
		{pipeline.StageDiscover, func(ctx context.Context) error {
			var err error
			disc, err = o.discover(ctx, run, plan)
			return err
		}},
		{pipeline.StageSelect, func(ctx context.Context) error {
			var err error
			sel, err = o.selectComponents(ctx, run, plan, disc)
			return err
		}},
		{pipeline.StageDocument, func(ctx context.Context) error {
			var err error
			doc, err = o.document(ctx, run, plan, sel)
			if err == nil {
				o.updateRun(run, func(r *pipeline.Run) { r.DesignDoc = doc.Markdown })
			}
			return err
		}},
		{pipeline.StageGenerate, func(ctx context.Context) error {
			var err error
			gen, err = o.generate(ctx, run, doc, sel)
			if err == nil {
				o.updateRun(run, func(r *pipeline.Run) { r.Script = gen.Script })
			}
			return err
		}},
	}

	for _, st := range reasoning {
		if err := o.runStage(ctx, run, st.stage, st.fn); err != nil {
			if ctx.Err() != nil {
				return o.loopErr(run, st.stage, "", ReasonCancelled, nil, ctx.Err())
			}
			return o.loopErr(run, st.stage, "", ReasonCollaborator, nil, err)
		}
	}

	scriptName := fmt.Sprintf("gen_%s.py", shortID(run.ID))
	if err := o.writeScript(run, scriptName); err != nil {
		return o.loopErr(run, pipeline.StageGenerate, "", ReasonCollaborator, nil, err)
	}
	scriptPath := o.cfg.Container.Workdir + "/" + scriptName

	sess, err := o.startSession(ctx, run)
	if err != nil {
		return o.loopErr(run, pipeline.StageValidateStatic, "", ReasonCollaborator, nil, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := sess.Stop(stopCtx); err != nil {
			logger.Warn("session teardown failed", zap.Error(err))
		}
		_ = o.recorder.LogContainerEvent(stopCtx, sess.Name(), run.ID, "stopped", "")
	}()

	// Snapshot before anything executes so pre-existing output files are
	// never attributed to this run.
	before, err := container.Snapshot(o.store.OutputDir(run.ID))
	if err != nil {
		return o.loopErr(run, pipeline.StageValidateStatic, "", ReasonCollaborator, nil, err)
	}

	cctx := correction.NewContext(o.cfg.Loops.MaxAttempts)

	if err := o.runStage(ctx, run, pipeline.StageValidateStatic, func(ctx context.Context) error {
		return o.correctionLoop(ctx, run, sess, cctx, loopSpec{
			checkStage: pipeline.StageValidateStatic,
			phase:      correction.PhaseStatic,
			parser:     "static",
			command:    o.cfg.Commands.Validate,
			scriptPath: scriptPath,
			scriptName: scriptName,
			failWith: func(issues []correction.Issue) error {
				return &ValidationError{Issues: issues}
			},
		})
	}); err != nil {
		return err
	}

	if err := o.runStage(ctx, run, pipeline.StageCheckRuntime, func(ctx context.Context) error {
		return o.correctionLoop(ctx, run, sess, cctx, loopSpec{
			checkStage: pipeline.StageCheckRuntime,
			phase:      correction.PhaseRuntime,
			parser:     "python",
			command:    o.cfg.Commands.Run,
			scriptPath: scriptPath,
			scriptName: scriptName,
			failWith: func(issues []correction.Issue) error {
				return &RuntimeExecutionError{Issues: issues}
			},
		})
	}); err != nil {
		return err
	}

	if err := o.runStage(ctx, run, pipeline.StageCheckDomainRules, func(ctx context.Context) error {
		return o.domainLoop(ctx, run, sess, cctx, scriptPath, scriptName)
	}); err != nil {
		return err
	}

	return o.runStage(ctx, run, pipeline.StageFinalize, func(ctx context.Context) error {
		return o.finalize(ctx, run, sess, cctx, before)
	})
}

type loopSpec struct {
	checkStage pipeline.Stage
	phase      correction.Phase
	parser     string
	command    string
	scriptPath string
	scriptName string
	failWith   func(issues []correction.Issue) error
}

// correctionLoop is the shared check/correct cycle for the static and
// runtime phases: run the check, exit on a clean result, otherwise invoke
// the corrector, apply the revised script, record the attempt, and check
// again. The hard cap is an independent counter backing up the per-phase
// bound and the stagnation logic themselves.
func (o *Orchestrator) correctionLoop(ctx context.Context, run *pipeline.Run, sess ExecSession, cctx *correction.Context, spec loopSpec) error {
	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			return o.loopErr(run, spec.checkStage, spec.phase, ReasonCancelled, nil, err)
		}
		if iter >= o.hardCap() {
			issues := latestIssues(cctx, spec.phase)
			return o.loopErr(run, spec.checkStage, spec.phase, ReasonSafetyCap, issues, spec.failWith(issues))
		}

		attempt := cctx.AttemptCount(spec.phase) + 1
		res, err := o.runCheck(ctx, run, sess, spec.checkStage, spec.parser, spec.command, spec.scriptPath, attempt)
		if err != nil {
			return o.loopErr(run, spec.checkStage, spec.phase, ReasonCollaborator, nil, err)
		}
		if res.Parse.Clean() {
			return nil
		}

		issues := correction.Normalize(res.Parse.Issues)
		if !cctx.ShouldContinue(spec.phase) {
			reason := ReasonMaxAttempts
			if cctx.AttemptCount(spec.phase) < cctx.MaxAttempts() {
				reason = ReasonStagnation
			}
			return o.loopErr(run, spec.checkStage, spec.phase, reason, issues, spec.failWith(issues))
		}

		corr, err := o.correct(ctx, run, spec.phase, spec.checkStage.CorrectionFor(), attempt, issues)
		if err != nil {
			return o.loopErr(run, spec.checkStage, spec.phase, ReasonCollaborator, issues, err)
		}
		if err := o.applyCorrection(run, spec.scriptName, corr); err != nil {
			return o.loopErr(run, spec.checkStage, spec.phase, ReasonCollaborator, issues, err)
		}
		o.recordAttempt(ctx, run, cctx, spec.phase, issues, corr.Corrections)
	}
}

// domainLoop runs the electrical rule check. Errors go to the domain
// corrector; a crashed checker is a script defect, not a rule finding,
// and goes to the runtime corrector instead. A warnings-only result
// either converges to zero warnings or ends in an explicit approval
// whose rationale is kept.
func (o *Orchestrator) domainLoop(ctx context.Context, run *pipeline.Run, sess ExecSession, cctx *correction.Context, scriptPath, scriptName string) error {
	stage := pipeline.StageCheckDomainRules

	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			return o.loopErr(run, stage, correction.PhaseDomain, ReasonCancelled, nil, err)
		}
		if iter >= o.hardCap() {
			issues := latestIssues(cctx, correction.PhaseDomain)
			errs, warns := correction.Count(issues)
			return o.loopErr(run, stage, correction.PhaseDomain, ReasonSafetyCap, issues,
				&DomainRuleError{Errors: errs, Warnings: warns, Issues: issues})
		}

		attempt := cctx.AttemptCount(correction.PhaseDomain) + 1
		res, err := o.runCheck(ctx, run, sess, stage, "erc", o.cfg.Commands.ERC, scriptPath, attempt)
		if err != nil {
			return o.loopErr(run, stage, correction.PhaseDomain, ReasonCollaborator, nil, err)
		}

		if res.Parse.Crashed {
			issues := correction.Normalize(res.Parse.Issues)
			if !cctx.ShouldContinue(correction.PhaseRuntime) {
				return o.loopErr(run, stage, correction.PhaseRuntime, ReasonMaxAttempts, issues,
					&RuntimeExecutionError{Issues: issues})
			}
			rattempt := cctx.AttemptCount(correction.PhaseRuntime) + 1
			corr, err := o.correct(ctx, run, correction.PhaseRuntime, pipeline.StageCorrectRuntime, rattempt, issues)
			if err != nil {
				return o.loopErr(run, stage, correction.PhaseRuntime, ReasonCollaborator, issues, err)
			}
			if err := o.applyCorrection(run, scriptName, corr); err != nil {
				return o.loopErr(run, stage, correction.PhaseRuntime, ReasonCollaborator, issues, err)
			}
			o.recordAttempt(ctx, run, cctx, correction.PhaseRuntime, issues, corr.Corrections)
			continue
		}

		errs, warns := correction.Count(res.Parse.Issues)
		if errs == 0 && warns == 0 {
			return nil
		}

		issues := correction.Normalize(res.Parse.Issues)
		if !cctx.ShouldContinue(correction.PhaseDomain) {
			reason := ReasonMaxAttempts
			if cctx.AttemptCount(correction.PhaseDomain) < cctx.MaxAttempts() {
				reason = ReasonStagnation
			}
			perr := o.loopErr(run, stage, correction.PhaseDomain, reason, issues,
				&DomainRuleError{Errors: errs, Warnings: warns, Issues: issues})
			perr.WarningsUnapproved = errs == 0 && warns > 0
			return perr
		}

		corr, err := o.correct(ctx, run, correction.PhaseDomain, stage.CorrectionFor(), attempt, issues)
		if err != nil {
			return o.loopErr(run, stage, correction.PhaseDomain, ReasonCollaborator, issues, err)
		}

		if corr.Approved {
			if errs > 0 {
				// Approval covers warnings only, never errors.
				return o.loopErr(run, stage, correction.PhaseDomain, ReasonCollaborator, issues,
					fmt.Errorf("corrector approved a result with %d errors", errs))
			}
			cctx.Approve(correction.PhaseDomain, corr.Rationale)
			o.updateRun(run, func(r *pipeline.Run) {
				r.Approval = &pipeline.Approval{
					Phase:      string(correction.PhaseDomain),
					Rationale:  corr.Rationale,
					RecordedAt: time.Now().UTC(),
				}
			})
			_ = o.recorder.LogRunEvent(ctx, run.ID, "warnings_approved", string(stage), corr.Rationale)
			o.sink.Log(progress.LevelWarn, fmt.Sprintf("approved with %d warnings: %s", warns, corr.Rationale))
			return nil
		}

		if err := o.applyCorrection(run, scriptName, corr); err != nil {
			return o.loopErr(run, stage, correction.PhaseDomain, ReasonCollaborator, issues, err)
		}
		o.recordAttempt(ctx, run, cctx, correction.PhaseDomain, issues, corr.Corrections)
	}
}

// runCheck executes one check command in the session and interprets its
// output.
func (o *Orchestrator) runCheck(ctx context.Context, run *pipeline.Run, sess ExecSession, stage pipeline.Stage, parserName, template, scriptPath string, attempt int) (*checks.ExecutionResult, error) {
	cmd := strings.ReplaceAll(template, "{script}", scriptPath)
	cmd = strings.ReplaceAll(cmd, "{outdir}", o.cfg.Container.OutputDir)

	timeout := config.Duration(o.cfg.Container.ExecTimeout, 5*time.Minute)
	res, err := sess.Execute(ctx, []string{"sh", "-c", cmd}, timeout)
	if err != nil {
		return nil, err
	}

	parse := checks.ParserFor(parserName).Parse(res.Stdout, res.Stderr, res.ExitCode)
	raw := fmt.Sprintf("$ %s\nexit: %d\n--- stdout ---\n%s\n--- stderr ---\n%s\n", cmd, res.ExitCode, res.Stdout, res.Stderr)
	_ = o.store.SaveCheckOutput(run.ID, stage, attempt, raw)

	o.sink.Log(progress.LevelInfo, fmt.Sprintf("%s: %s", stage, parse.Summary))
	return &checks.ExecutionResult{
		Succeeded: parse.Clean(),
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Parse:     parse,
	}, nil
}

func (o *Orchestrator) recordAttempt(ctx context.Context, run *pipeline.Run, cctx *correction.Context, phase correction.Phase, issues []correction.Issue, corrections []string) {
	cctx.RecordAttempt(phase, issues, corrections)
	last := cctx.Latest(phase)
	errs, warns := correction.Count(last.Issues)
	_ = o.recorder.LogCorrectionAttempt(ctx, run.ID, string(phase), last.Number, last.Fingerprint, errs, warns, corrections)
	o.sink.Log(progress.LevelWarn, fmt.Sprintf("correction attempt %d/%d (%s): %d errors, %d warnings",
		last.Number, cctx.MaxAttempts(), phase, errs, warns))
}

// applyCorrection installs a revised script: the workspace file the
// container sees and the persisted run state move together.
func (o *Orchestrator) applyCorrection(run *pipeline.Run, scriptName string, corr *CorrectionResult) error {
	if corr.Script == "" {
		return fmt.Errorf("correction returned an empty script")
	}
	path := filepath.Join(o.store.WorkspaceDir(run.ID), scriptName)
	if err := os.WriteFile(path, []byte(corr.Script), 0o644); err != nil {
		return fmt.Errorf("write corrected script: %w", err)
	}
	o.updateRun(run, func(r *pipeline.Run) { r.Script = corr.Script })
	return nil
}

// finalize extracts run artifacts from the container and writes the
// manifest, carrying any approval forward so caveats are never dropped.
func (o *Orchestrator) finalize(ctx context.Context, run *pipeline.Run, sess ExecSession, cctx *correction.Context, before map[string]string) error {
	hostDir := o.store.OutputDir(run.ID)
	files, err := sess.CopyArtifacts(ctx, o.cfg.Container.OutputDir, hostDir, before)
	if err != nil {
		return o.loopErr(run, pipeline.StageFinalize, "", ReasonCollaborator, nil, err)
	}
	if len(files) == 0 {
		return o.loopErr(run, pipeline.StageFinalize, "", ReasonCollaborator, nil,
			fmt.Errorf("run produced no artifacts"))
	}

	m := &pipeline.Manifest{
		RunID:     run.ID,
		Files:     files,
		Generated: time.Now().UTC().Format(time.RFC3339),
	}
	if a := cctx.ApprovalFor(correction.PhaseDomain); a != nil {
		m.Approval = &pipeline.Approval{
			Phase:      string(correction.PhaseDomain),
			Rationale:  a.Rationale,
			RecordedAt: a.RecordedAt,
		}
	}
	if err := o.store.SaveManifest(run.ID, m); err != nil {
		return o.loopErr(run, pipeline.StageFinalize, "", ReasonCollaborator, nil, err)
	}
	o.sink.Log(progress.LevelInfo, fmt.Sprintf("extracted %d artifact(s) to %s", len(files), hostDir))
	return nil
}

// runStage wraps one stage with timing, history, progress, and ledger
// bookkeeping.
func (o *Orchestrator) runStage(ctx context.Context, run *pipeline.Run, stage pipeline.Stage, fn func(ctx context.Context) error) error {
	o.updateRun(run, func(r *pipeline.Run) { r.CurrentStage = stage })
	o.sink.StartStage(string(stage))
	_ = o.recorder.LogRunEvent(ctx, run.ID, "stage_started", string(stage), "")

	start := time.Now()
	err := fn(ctx)
	dur := time.Since(start).Round(time.Millisecond)

	entry := pipeline.StageHistoryEntry{Stage: stage, Duration: dur.String()}
	if err != nil {
		entry.Outcome = "fail"
		entry.Detail = err.Error()
		o.sink.FinishStage(string(stage), "failed")
		_ = o.recorder.LogRunEvent(context.WithoutCancel(ctx), run.ID, "stage_failed", string(stage), err.Error())
	} else {
		entry.Outcome = "success"
		o.sink.FinishStage(string(stage), "ok")
		_ = o.recorder.LogRunEvent(ctx, run.ID, "stage_completed", string(stage), "")
	}
	o.updateRun(run, func(r *pipeline.Run) { r.StageHistory = append(r.StageHistory, entry) })
	return err
}

// startSession builds and starts the per-run container session. The run
// workspace is mounted at the container workdir; the output directory is
// not mounted, artifacts leave through explicit copy-out.
func (o *Orchestrator) startSession(ctx context.Context, run *pipeline.Run) (ExecSession, error) {
	workspace := o.store.WorkspaceDir(run.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir workspace: %w", err)
	}

	// A crashed prior run leaves its container behind; reap anything
	// matching the prefix that no live session owns before starting.
	if o.runner != nil {
		reaped, err := container.ReapStale(ctx, o.runner, o.cfg.Container.NamePrefix, o.logger)
		if err != nil {
			o.logger.Warn("stale container reap failed", zap.Error(err))
		}
		for _, stale := range reaped {
			_ = o.recorder.LogContainerEvent(ctx, stale, run.ID, "reaped", "stale container from a prior run")
		}
	}

	name := o.cfg.Container.NamePrefix + shortID(run.ID)
	sess, err := o.newSession(container.Config{
		Name:  name,
		Image: o.cfg.Container.Image,
		Mounts: []container.Mount{
			{Host: workspace, Container: o.cfg.Container.Workdir},
		},
		HealthTimeout: config.Duration(o.cfg.Container.HealthTimeout, 8*time.Second),
		ExecTimeout:   config.Duration(o.cfg.Container.ExecTimeout, 5*time.Minute),
		Logger:        o.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	_ = o.recorder.LogContainerEvent(ctx, name, run.ID, "started", o.cfg.Container.Image)
	return sess, nil
}

func (o *Orchestrator) writeScript(run *pipeline.Run, scriptName string) error {
	workspace := o.store.WorkspaceDir(run.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("mkdir workspace: %w", err)
	}
	path := filepath.Join(workspace, scriptName)
	if err := os.WriteFile(path, []byte(run.Script), 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

func (o *Orchestrator) hardCap() int {
	if o.cfg.Loops.HardCap > 0 {
		return o.cfg.Loops.HardCap
	}
	return 10
}

func (o *Orchestrator) loopErr(run *pipeline.Run, stage pipeline.Stage, phase correction.Phase, reason string, issues []correction.Issue, err error) *PipelineError {
	return &PipelineError{
		RunID:  run.ID,
		Stage:  stage,
		Phase:  phase,
		Reason: reason,
		Issues: issues,
		Err:    err,
	}
}

func (o *Orchestrator) setStatus(id string, status pipeline.Status) {
	_ = o.store.Update(id, func(r *pipeline.Run) { r.Status = status })
}

// updateRun applies fn to the in-memory run and persists the same change.
func (o *Orchestrator) updateRun(run *pipeline.Run, fn func(*pipeline.Run)) {
	fn(run)
	_ = o.store.Update(run.ID, fn)
}

func latestIssues(cctx *correction.Context, phase correction.Phase) []correction.Issue {
	if last := cctx.Latest(phase); last != nil {
		return last.Issues
	}
	return nil
}

func isReason(err error, reason string) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Reason == reason
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateTitle(request string) string {
	title := strings.TrimSpace(request)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
