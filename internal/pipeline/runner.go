package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/dgallion1/pdfdrop/internal/bundle"
	"github.com/dgallion1/pdfdrop/internal/config"
	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/publish"
	"github.com/dgallion1/pdfdrop/internal/workspace"
)

// ErrNoPublisher is returned by Republish when bundles are only kept locally.
var ErrNoPublisher = errors.New("no publisher configured")

// Submitter performs one extraction call.
type Submitter interface {
	Submit(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// BundlePublisher uploads a bundle below a destination folder.
type BundlePublisher interface {
	Publish(ctx context.Context, b *bundle.Bundle, dest string) (*publish.Manifest, error)
}

// Input is one uploaded PDF.
type Input struct {
	Filename     string
	PDF          []byte
	Capabilities []extract.Capability
}

// Result is a run that produced a bundle. Publish is nil when no publisher
// is configured or the publish could not start.
type Result struct {
	Run     RunSnapshot
	Bundle  *bundle.Bundle
	Publish *publish.Manifest
	// PublishErr is set when publishing failed as a whole or in part.
	PublishErr error
}

// RunError is returned when a run failed before producing a bundle.
type RunError struct {
	RunID string
	Phase string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed while %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner sequences extraction, unpacking, local save and publishing for
// each uploaded PDF.
type Runner struct {
	runs      *RunStore
	extractor Submitter
	ws        *workspace.Workspace
	publisher BundlePublisher
	log       *slog.Logger

	extractTimeout time.Duration
	attempts       int
	publishRoot    string
	backoff        func(attempt int) time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires the stages. publisher may be nil, in which case bundles
// are only saved locally.
func NewRunner(cfg config.Config, extractor Submitter, ws *workspace.Workspace, publisher BundlePublisher, log *slog.Logger) *Runner {
	attempts := cfg.ExtractAttempts
	if attempts < 1 {
		attempts = 1
	}
	root := cfg.DropboxRoot
	if root == "" {
		root = config.DefaultDropboxRoot
	}
	return &Runner{
		runs:           NewRunStore(cfg.RunTTL),
		extractor:      extractor,
		ws:             ws,
		publisher:      publisher,
		log:            log,
		extractTimeout: cfg.ExtractTimeout,
		attempts:       attempts,
		publishRoot:    root,
		backoff:        Backoff,
	}
}

// Start launches the run registry cleanup.
func (r *Runner) Start(ctx context.Context) {
	cleanupCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if n := r.runs.Cleanup(); n > 0 {
					r.log.Debug("evicted runs", "count", n)
				}
			}
		}
	}()
}

// Stop ends background work.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// GetRun returns a run by ID, or nil once it has been evicted.
func (r *Runner) GetRun(id string) *Run {
	return r.runs.Get(id)
}

// Destination is the publish folder of a run.
func (r *Runner) Destination(runID string) string {
	return path.Join(r.publishRoot, runID)
}

// Run processes one PDF synchronously. Failures before a bundle exists are
// returned as *RunError; publish failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	run := NewRun(workspace.NewRunID(), in.Filename, in.Capabilities, in.PDF)
	r.runs.Put(run)
	log := r.log.With("run_id", run.ID, "filename", in.Filename)

	fail := func(phase string, err error) (*Result, error) {
		log.Error("run failed", "phase", phase, "error", err)
		run.AddError(fmt.Sprintf("%s: %s", phase, err))
		run.SetStatus(StatusFailed, phase)
		return nil, &RunError{RunID: run.ID, Phase: phase, Err: err}
	}

	req, err := extract.NewRequest(in.PDF, in.Capabilities)
	if err != nil {
		return fail("validating", err)
	}

	run.SetStatus(StatusExtracting, "extracting")
	raw, err := r.submit(ctx, log, req)
	if err != nil {
		return fail("extracting", err)
	}
	log.Info("extraction complete", "phase", "extracting", "archive_bytes", len(raw.Archive))

	run.SetStatus(StatusUnpacking, "unpacking")
	full, err := bundle.Unpack(raw.Archive)
	if err != nil {
		return fail("unpacking", err)
	}
	b := full.Restrict(req.Capabilities()...)
	run.SetCounts(Counts{TextChars: len(b.Text()), Tables: len(b.Tables()), Figures: len(b.Figures())})

	run.SetStatus(StatusSaving, "saving")
	if err := r.ws.Save(ctx, run.ID, b); err != nil {
		return fail("saving", err)
	}

	res := &Result{Bundle: b}
	if r.publisher == nil {
		run.SetStatus(StatusCompleted, "done")
		log.Info("run complete", "phase", "done")
		res.Run = run.Snapshot()
		return res, nil
	}

	res.Publish, res.PublishErr = r.publish(ctx, log, run, b)
	res.Run = run.Snapshot()
	return res, nil
}

// Republish uploads the workspace copy of a run, including any edits, to
// the run's destination.
func (r *Runner) Republish(ctx context.Context, runID string) (*publish.Manifest, error) {
	if r.publisher == nil {
		return nil, ErrNoPublisher
	}
	b, err := r.ws.Load(runID)
	if err != nil {
		return nil, err
	}
	log := r.log.With("run_id", runID)

	run := r.runs.Get(runID)
	if run == nil {
		// Evicted from the registry; the workspace copy is still good.
		run = NewRun(runID, "", nil, nil)
	}
	return r.publish(ctx, log, run, b)
}

// publish uploads b and settles the run's final status.
func (r *Runner) publish(ctx context.Context, log *slog.Logger, run *Run, b *bundle.Bundle) (*publish.Manifest, error) {
	run.SetStatus(StatusPublishing, "publishing")
	m, err := r.publisher.Publish(ctx, b, r.Destination(run.ID))
	if err != nil {
		log.Error("publish failed", "phase", "publishing", "error", err)
		run.AddError(fmt.Sprintf("publishing: %s", err))
		run.SetStatus(StatusPublishFailed, "publishing")
		return nil, err
	}
	run.SetPublish(m)

	switch {
	case len(m.Failures) == 0:
		run.SetStatus(StatusCompleted, "done")
		log.Info("run complete", "phase", "done", "uploaded", len(m.Entries))
		return m, nil
	case len(m.Entries) == 0:
		run.SetStatus(StatusPublishFailed, "publishing")
	default:
		run.SetStatus(StatusPartial, "done")
	}
	for _, f := range m.Failures {
		run.AddError(fmt.Sprintf("upload %s: %s", f.RemotePath, f.Reason))
	}
	log.Warn("publish incomplete", "phase", "publishing", "uploaded", len(m.Entries), "failed", len(m.Failures))
	return m, fmt.Errorf("%d of %d uploads failed: %s", len(m.Failures), len(m.Failures)+len(m.Entries), m.Failures[0].Reason)
}

// submit calls the extractor, retrying transport failures with backoff.
func (r *Runner) submit(ctx context.Context, log *slog.Logger, req extract.Request) (*extract.Result, error) {
	var lastErr error
	for attempt := range r.attempts {
		sctx, cancel := r.extractContext(ctx)
		res, err := r.extractor.Submit(sctx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !extract.IsRetryable(err) || attempt == r.attempts-1 {
			break
		}
		log.Warn("retryable extraction error", "attempt", attempt, "error", err)
		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (r *Runner) extractContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.extractTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.extractTimeout)
}
