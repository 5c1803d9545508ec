// Package orchestrator implements the Orchestrator (C13): the phase
// graph executor that drives Ingest through Sort, gating each phase by
// its configured toggle and aggregating a structured report (spec
// §4.13).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// logStore is the subset of *store.Store Orchestrator needs for
// reporting: appending the end-of-run summary log entry.
type logStore interface {
	AppendLog(ctx context.Context, step media.Step, message string, severity media.Severity) error
}

// PhaseReport is the {processed, succeeded, failed, skipped, duration}
// shape every phase returns (spec §4.13 "Reporting").
type PhaseReport struct {
	Name      string
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Err       error // non-nil only when the phase could not start at all
}

// phaseFunc runs one phase and reports its outcome. Implementations
// never return an error for individual file failures — only when the
// phase itself could not start (spec §4.13: "A phase fails only if it
// cannot start").
type phaseFunc func(ctx context.Context) (PhaseReport, error)

// Phase names a node in the graph, paired with its toggle and runner.
type Phase struct {
	Name    string
	Enabled bool
	Run     phaseFunc
}

// Notifier is the abstract hook for reporting a finished run externally.
// No concrete messaging integration is wired in (spec's Non-goals:
// "Notification channels ... beyond the abstract hook contract") — NoOp
// is the only shipped implementation.
type Notifier interface {
	Notify(ctx context.Context, report Report)
}

// NoOpNotifier discards every report.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Report) {}

// Report is the orchestrator's aggregated, run-wide result.
type Report struct {
	Phases   []PhaseReport
	Duration time.Duration
}

// Engine runs the phase graph: Ingest -> Dedupe -> Compress -> Stage ->
// (UploadICloud || SyncPixel) -> Verify -> Sort (spec §4.13). The two
// upload phases run concurrently when both are enabled; every other
// phase runs sequentially.
type Engine struct {
	store    logStore
	notifier Notifier
	logger   *slog.Logger
	nowFn    func() time.Time

	ingest      Phase
	dedupe      Phase
	compress    Phase
	stage       Phase
	uploadCloud Phase
	syncPixel   Phase
	verify      Phase
	sort        Phase
}

// Option configures an Engine beyond its required constructor arguments.
type Option func(*Engine)

// WithNotifier overrides the default NoOpNotifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithNowFunc overrides the clock used to time phases and the run (tests).
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// Phases bundles every graph node's toggle + runner, built by the CLI
// layer from the configured engines.
type Phases struct {
	Ingest      Phase
	Dedupe      Phase
	Compress    Phase
	Stage       Phase
	UploadCloud Phase
	SyncPixel   Phase
	Verify      Phase
	Sort        Phase
}

// New builds an Engine wired with every phase's toggle + runner.
func New(st logStore, phases Phases, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:       st,
		notifier:    NoOpNotifier{},
		logger:      logger,
		nowFn:       time.Now,
		ingest:      phases.Ingest,
		dedupe:      phases.Dedupe,
		compress:    phases.Compress,
		stage:       phases.Stage,
		uploadCloud: phases.UploadCloud,
		syncPixel:   phases.SyncPixel,
		verify:      phases.Verify,
		sort:        phases.Sort,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes the phase graph once, end to end (spec §4.13's phase
// graph, "directed, linear with conditional gates"). A phase that fails
// to start causes its dependents to be skipped, but independent phases
// still run — in this linear graph, that means a failed phase stops
// everything downstream of it, while the two upload phases are
// independent of each other so one failing doesn't block the other.
func (e *Engine) Run(ctx context.Context) Report {
	start := e.nowFn()

	var report Report

	sequential := []*Phase{&e.ingest, &e.dedupe, &e.compress, &e.stage}

	aborted := false

	for _, p := range sequential {
		pr := e.runPhase(ctx, *p)
		report.Phases = append(report.Phases, pr)

		if pr.Err != nil {
			aborted = true

			break
		}
	}

	if !aborted {
		for _, pr := range e.runUploads(ctx) {
			report.Phases = append(report.Phases, pr)
		}

		for _, p := range []*Phase{&e.verify, &e.sort} {
			pr := e.runPhase(ctx, *p)
			report.Phases = append(report.Phases, pr)

			if pr.Err != nil {
				break
			}
		}
	}

	report.Duration = e.nowFn().Sub(start)

	e.logSummary(ctx, report)
	e.notifier.Notify(ctx, report)

	return report
}

// runUploads runs UploadICloud and SyncPixel concurrently when both are
// enabled (spec §4.13: "The two upload phases may run concurrently when
// both toggles are on"), grounded on the teacher's
// internal/sync/orchestrator.go RunOnce fan-out, generalized from
// errgroup.Go per drive to errgroup.Go per upload phase. Neither phase
// ever returns a non-nil error from the group's perspective — a failed
// phase is carried in its own PhaseReport.Err, never aborts its sibling.
func (e *Engine) runUploads(ctx context.Context) []PhaseReport {
	reports := make([]PhaseReport, 2)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reports[0] = e.runPhase(gctx, e.uploadCloud)
		return nil
	})

	g.Go(func() error {
		reports[1] = e.runPhase(gctx, e.syncPixel)
		return nil
	})

	_ = g.Wait()

	return reports
}

// runPhase gates p by its toggle, times it, recovers a panic into a
// failed-to-start PhaseReport (mirroring the teacher's WorkerPool panic
// recovery, applied at phase rather than per-action granularity), and
// logs the outcome.
func (e *Engine) runPhase(ctx context.Context, p Phase) (report PhaseReport) {
	report.Name = p.Name

	if !p.Enabled {
		report.Skipped = 1
		return report
	}

	if p.Run == nil {
		report.Err = fmt.Errorf("orchestrator: phase %s has no runner configured", p.Name)
		return report
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("orchestrator: phase panicked", slog.String("phase", p.Name), slog.Any("panic", r))
			report.Err = fmt.Errorf("orchestrator: phase %s panicked: %v", p.Name, r)
		}
	}()

	start := e.nowFn()

	result, err := p.Run(ctx)
	result.Name = p.Name
	result.Duration = e.nowFn().Sub(start)
	result.Err = err

	if err != nil {
		e.logger.Error("orchestrator: phase failed to start", slog.String("phase", p.Name), slog.String("error", err.Error()))
	} else {
		e.logger.Info("orchestrator: phase complete",
			slog.String("phase", p.Name),
			slog.Int("processed", result.Processed),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("failed", result.Failed),
		)
	}

	return result
}

// Phase looks up a graph node by name, for `pipeline run --phase <name>`
// (spec §6).
func (e *Engine) Phase(name string) (Phase, bool) {
	for _, p := range []Phase{e.ingest, e.dedupe, e.compress, e.stage, e.uploadCloud, e.syncPixel, e.verify, e.sort} {
		if p.Name == name {
			return p, true
		}
	}

	return Phase{}, false
}

// RunPhase runs a single phase outside the graph, gated by its own
// toggle, with the same timing/logging/panic-recovery as a graph run.
func (e *Engine) RunPhase(ctx context.Context, p Phase) PhaseReport {
	return e.runPhase(ctx, p)
}

func (e *Engine) logSummary(ctx context.Context, report Report) {
	var processed, succeeded, failed int

	for _, p := range report.Phases {
		processed += p.Processed
		succeeded += p.Succeeded
		failed += p.Failed
	}

	msg := fmt.Sprintf("run complete: %d processed, %d succeeded, %d failed, %s", processed, succeeded, failed, report.Duration)

	if err := e.store.AppendLog(ctx, media.StepOrchestra, msg, media.SeverityInfo); err != nil {
		e.logger.Error("orchestrator: appending run summary log failed", slog.String("error", err.Error()))
	}
}
