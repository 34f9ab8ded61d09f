// Package pipeline runs one scheduled batch: every (location, campaign) cell
// of the report matrix is extracted, normalized and appended in turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/report-etl/internal/datanorm"
	"github.com/ignite/report-etl/internal/notify"
	"github.com/ignite/report-etl/internal/pkg/logger"
	"github.com/ignite/report-etl/internal/report"
)

// Config is the static shape of a batch.
type Config struct {
	Locations   []report.Location
	Campaigns   []report.Campaign
	Destination string
	RunSummary  bool
}

// Deps are the collaborators of the orchestrator. Archiver and Recorder are
// optional; Clock defaults to time.Now.
type Deps struct {
	Sessions   SessionFactory
	Normalizer Normalizer
	Loader     Loader
	Notifier   Notifier
	Layout     Layout
	Archiver   Archiver
	Recorder   Recorder
	Clock      func() time.Time
}

// BatchOutcome summarizes a run. LoginErr and SetupErr are the only
// run-wide failures; cell failures live in Results.
type BatchOutcome struct {
	RunID       string
	Window      report.DateWindow
	Results     []report.IterationResult
	LoginErr    error
	SetupErr    error
	Interrupted bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Failed reports whether the run could not process the matrix.
func (b *BatchOutcome) Failed() bool {
	return b.LoginErr != nil || b.SetupErr != nil || b.Interrupted
}

// Count returns the number of cells with the given outcome.
func (b *BatchOutcome) Count(o report.Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Orchestrator runs batches. It holds no state between runs.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Run executes one batch. Cells run sequentially in location-major order and
// are isolated from each other: a failed cell is notified, recorded and
// skipped. Nothing is retried.
func (o *Orchestrator) Run(ctx context.Context) *BatchOutcome {
	now := o.deps.Clock()
	out := &BatchOutcome{
		RunID:     uuid.NewString(),
		Window:    report.ComputeWindow(now),
		StartedAt: now,
	}
	logger.SetField("run_id", out.RunID)
	logger.Info("run started", "window", out.Window,
		"locations", len(o.cfg.Locations), "campaigns", len(o.cfg.Campaigns))

	defer func() {
		out.FinishedAt = o.deps.Clock()
		if o.deps.Recorder != nil {
			o.deps.Recorder.ObserveRun(out.StartedAt, out.FinishedAt, out.LoginErr != nil, !out.Failed())
		}
		logger.Info("run finished",
			"window", out.Window,
			"loaded", out.Count(report.OutcomeLoaded),
			"empty", out.Count(report.OutcomeEmptyData),
			"unparseable", out.Count(report.OutcomeUnparseable),
			"failed", out.Count(report.OutcomeFailed),
			"duration", out.FinishedAt.Sub(out.StartedAt).Round(time.Second))
	}()

	// Files for the whole window go under the window's last day.
	day := out.Window.End
	dir, err := o.deps.Layout.EnsureDayDir(day)
	if err != nil {
		out.SetupErr = err
		o.setupFailed(ctx, out, err)
		return out
	}

	session, err := o.deps.Sessions(ctx, dir)
	if err != nil {
		out.SetupErr = fmt.Errorf("open browser session: %w", err)
		o.setupFailed(ctx, out, out.SetupErr)
		return out
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("closing browser session", "error", err)
		}
	}()

	if err := session.Login(ctx); err != nil {
		out.LoginErr = err
		logger.Error("dashboard login failed", "error", err)
		o.deps.Notifier.Send(ctx, notify.KindLoginFailed, notify.Vars{
			"error":  err.Error(),
			"window": out.Window.String(),
			"run_id": out.RunID,
		})
		return out
	}

matrix:
	for _, loc := range o.cfg.Locations {
		for _, camp := range o.cfg.Campaigns {
			if ctx.Err() != nil {
				out.Interrupted = true
				logger.Warn("run interrupted, remaining cells skipped", "error", ctx.Err())
				break matrix
			}
			res := o.runCell(ctx, session, out, loc, camp, day)
			out.Results = append(out.Results, res)
			if o.deps.Recorder != nil {
				o.deps.Recorder.ObserveCell(res)
			}
		}
	}

	if o.cfg.RunSummary {
		o.sendSummary(ctx, out)
	}
	return out
}

// runCell processes one cell. A panic anywhere in the cell is recovered and
// reported as a cell failure.
func (o *Orchestrator) runCell(ctx context.Context, session Extractor, out *BatchOutcome,
	loc report.Location, camp report.Campaign, day time.Time) (res report.IterationResult) {

	res = report.IterationResult{Location: loc, Campaign: camp}
	vars := notify.Vars{
		"location": string(loc),
		"campaign": string(camp),
		"window":   out.Window.String(),
		"run_id":   out.RunID,
	}
	fail := func(kind notify.Kind, outcome report.Outcome, err error) report.IterationResult {
		res.Outcome, res.Err = outcome, err
		vars["error"] = err.Error()
		o.deps.Notifier.Send(ctx, kind, vars)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("cell panicked", "location", loc, "campaign", camp, "error", err)
			res = fail(notify.KindCellFailed, report.OutcomeFailed, err)
		}
	}()

	raw, err := session.ExtractReport(ctx, loc, camp, out.Window)
	if err != nil {
		logger.Error("extraction failed", "location", loc, "campaign", camp, "error", err)
		return fail(notify.KindCellFailed, report.OutcomeFailed, err)
	}

	if o.deps.Archiver != nil {
		if err := o.deps.Archiver.Archive(ctx, day, raw); err != nil {
			logger.Warn("raw report not archived", "path", raw.Path, "error", err)
		}
	}

	table, err := o.deps.Normalizer.Normalize(raw.Path, camp)
	switch {
	case errors.Is(err, datanorm.ErrNoData), err == nil && table.Empty():
		logger.Info("no data in report", "location", loc, "campaign", camp, "path", raw.Path)
		res.Outcome = report.OutcomeEmptyData
		o.deps.Notifier.Send(ctx, notify.KindNoData, vars)
		return res
	case err != nil:
		logger.Error("report could not be parsed", "location", loc, "campaign", camp, "error", err)
		return fail(notify.KindParseFailed, report.OutcomeUnparseable, err)
	}

	n, err := o.deps.Loader.Append(ctx, table, o.cfg.Destination)
	if err != nil {
		logger.Error("load failed", "location", loc, "campaign", camp, "rows", table.Len(), "error", err)
		return fail(notify.KindLoadFailed, report.OutcomeFailed, err)
	}

	res.Outcome, res.Rows = report.OutcomeLoaded, n
	vars["rows"] = n
	logger.Info("cell loaded", "location", loc, "campaign", camp, "rows", n, "table", o.cfg.Destination)
	o.deps.Notifier.Send(ctx, notify.KindLoadSucceeded, vars)
	return res
}

func (o *Orchestrator) setupFailed(ctx context.Context, out *BatchOutcome, err error) {
	logger.Error("run setup failed", "error", err)
	o.deps.Notifier.Send(ctx, notify.KindSetupFailed, notify.Vars{
		"error":  err.Error(),
		"window": out.Window.String(),
		"run_id": out.RunID,
	})
}

func (o *Orchestrator) sendSummary(ctx context.Context, out *BatchOutcome) {
	lines := make([]string, len(out.Results))
	for i, r := range out.Results {
		lines[i] = r.String()
	}
	o.deps.Notifier.Send(ctx, notify.KindRunSummary, notify.Vars{
		"window":   out.Window.String(),
		"run_id":   out.RunID,
		"loaded":   strconv.Itoa(out.Count(report.OutcomeLoaded)),
		"failed":   strconv.Itoa(out.Count(report.OutcomeFailed) + out.Count(report.OutcomeUnparseable)),
		"duration": o.deps.Clock().Sub(out.StartedAt).Round(time.Second).String(),
		"results":  lines,
	})
}
