// Package audit walks a content tree looking for target leaves whose date
// attribute is still stored as a legacy string, and optionally repairs it.
//
// A Job runs at most one traversal at a time in a background goroutine and
// exposes live progress through Status, Snapshot and IsRunning. Repairs are
// committed every Config.BatchSize fixes and once more at the end of the
// walk.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/output"
)

// ReportOpener returns the report writer for a run. The job closes the
// writer when the run ends.
type ReportOpener func(runID string) (output.Writer, error)

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the job logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithReport sets the opener used to create a report writer per run.
func WithReport(open ReportOpener) Option {
	return func(j *Job) { j.openReport = open }
}

// WithContext sets the parent context of every run. Cancelling it aborts
// in-flight store operations and fails the run.
func WithContext(ctx context.Context) Option {
	return func(j *Job) {
		if ctx != nil {
			j.baseCtx = ctx
		}
	}
}

// WithStoreName sets the backend name attached to logs and report records.
func WithStoreName(name string) Option {
	return func(j *Job) { j.storeName = name }
}

// Job is a single-instance, cancellable audit runner.
type Job struct {
	store      contentstore.Store
	cfg        Config
	logger     *zap.Logger
	openReport ReportOpener
	baseCtx    context.Context
	storeName  string

	slot       *semaphore.Weighted
	running    atomic.Bool
	shouldQuit atomic.Bool
	runs       atomic.Int64
	counters   Counters

	// mu guards the fields below and the counter reset.
	mu        sync.Mutex
	phase     Phase
	lastErr   string
	runID     string
	root      string
	repair    bool
	startedAt *time.Time
	endedAt   *time.Time
	done      chan struct{}
}

// New creates an idle job over store.
func New(store contentstore.Store, cfg Config, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit config: %w", err)
	}
	j := &Job{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  zap.NewNop(),
		baseCtx: context.Background(),
		slot:    semaphore.NewWeighted(1),
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Start launches a traversal from rootPath in the background.
//
// If a run is already in progress Start logs a warning and returns false
// without touching the running worker. Otherwise counters are reset, the
// phase becomes Running and Start returns true.
func (j *Job) Start(rootPath string, creds contentstore.Credentials, repair bool) bool {
	now := time.Now().UTC()
	runID := uuid.New().String()
	root := contentstore.CleanPath(rootPath)

	// The slot is released under mu, so a caller that saw IsRunning
	// return false cannot be turned away here.
	j.mu.Lock()
	if !j.slot.TryAcquire(1) {
		j.mu.Unlock()
		j.logger.Warn("Audit already running; start ignored", zap.String("root", rootPath))
		return false
	}
	j.counters.reset()
	j.phase = PhaseRunning
	j.lastErr = ""
	j.runID = runID
	j.root = root
	j.repair = repair
	j.startedAt = &now
	j.endedAt = nil
	j.done = make(chan struct{})
	j.shouldQuit.Store(false)
	j.running.Store(true)
	j.mu.Unlock()

	j.runs.Add(1)
	go j.run(runID, root, creds.WithDefaults(), repair)
	return true
}

// Stop requests cooperative cancellation of the current run. It does not
// wait; the worker notices the request at its next check and finishes
// with the trailing commit.
func (j *Job) Stop() {
	if !j.running.Load() {
		return
	}
	j.shouldQuit.Store(true)
	j.logger.Info("Audit stop requested")
}

// IsRunning reports whether a run is in progress.
func (j *Job) IsRunning() bool {
	return j.running.Load()
}

// Status returns the human-readable status line.
func (j *Job) Status() string {
	return j.Snapshot().String()
}

// Snapshot returns the current status.
//
// Counters are read in reverse increment order so that
// LeavesFixed <= LeavesSeen <= NodesVisited always holds.
func (j *Job) Snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	visited, seen, fixed := j.counters.Load()
	return Status{
		Phase:        j.phase,
		Running:      j.running.Load(),
		NodesVisited: visited,
		LeavesSeen:   seen,
		LeavesFixed:  fixed,
		LastError:    j.lastErr,
		RunID:        j.runID,
		Root:         j.root,
		Repair:       j.repair,
		StartedAt:    j.startedAt,
		EndedAt:      j.endedAt,
	}
}

// Runs returns the number of runs started since the job was created.
func (j *Job) Runs() int64 {
	return j.runs.Load()
}

// Wait blocks until the current run ends or ctx is done. It returns
// immediately when no run has been started.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) run(runID, root string, creds contentstore.Credentials, repair bool) {
	log := j.logger.With(zap.String("run_id", runID), zap.String("root", root))
	ctx := j.baseCtx
	started := time.Now()

	report := output.Discard
	var err error
	if j.openReport != nil {
		var w output.Writer
		w, err = j.openReport(runID)
		if err == nil && w != nil {
			report = w
		}
		if err != nil {
			err = fmt.Errorf("open report: %w", err)
		}
	}

	log.Info("Audit started", zap.Bool("repair", repair), zap.String("store", j.storeName))

	if err == nil {
		err = j.traverse(ctx, log, report, root, creds, repair)
	}

	stopped := j.shouldQuit.Load()
	visited, seen, fixed := j.counters.Load()
	phase := PhaseDone
	if err != nil {
		phase = PhaseFailed
		log.Error("Audit failed", zap.Error(err),
			zap.Int64("nodes_visited", visited),
			zap.Int64("leaves_seen", seen),
			zap.Int64("leaves_fixed", fixed))
		_ = report.WriteError(ctx, &output.ErrorRecord{
			Code:    errorCode(err),
			Message: err.Error(),
			Path:    root,
		})
	} else {
		log.Info("Audit finished",
			zap.Bool("stopped", stopped),
			zap.Int64("nodes_visited", visited),
			zap.Int64("leaves_seen", seen),
			zap.Int64("leaves_fixed", fixed))
	}

	elapsed := time.Since(started)
	sum := &output.SummaryRecord{
		Phase:         string(phase),
		Root:          root,
		Repair:        repair,
		NodesVisited:  visited,
		LeavesSeen:    seen,
		LeavesFixed:   fixed,
		Stopped:       stopped,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
	if err != nil {
		sum.Error = err.Error()
	}
	_ = report.WriteSummary(ctx, sum)
	if cerr := report.Close(); cerr != nil {
		log.Warn("Failed to close report", zap.Error(cerr))
	}

	j.finish(phase, err)
}

// traverse opens a session, walks the tree and performs the trailing
// commit. Panics in the store or walker are returned as errors.
func (j *Job) traverse(ctx context.Context, log *zap.Logger, report output.Writer, root string, creds contentstore.Credentials, repair bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Audit panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	session, err := j.store.OpenSession(ctx, creds)
	if err != nil {
		return fmt.Errorf("open session as %s: %w", creds.Username, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("Failed to close session", zap.Error(cerr))
		}
	}()

	node, err := session.Resolve(ctx, root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	inspector, err := NewInspector(j.cfg, session, &j.counters)
	if err != nil {
		return err
	}
	inspector.WithReport(report).WithLogger(log)

	walker := NewWalker(j.cfg, &j.counters, inspector.Func(repair), j.shouldQuit.Load).WithLogger(log)
	if err := walker.Walk(ctx, node); err != nil {
		return err
	}

	if repair && session.HasPendingChanges() {
		fixed := j.counters.LeavesFixed.Load()
		log.Info("Final save", zap.Int64("leaves_fixed", fixed))
		if err := session.Commit(ctx); err != nil {
			return fmt.Errorf("final commit: %w", err)
		}
		_ = report.WriteCommit(ctx, &output.CommitRecord{LeavesFixed: fixed, Final: true})
	}
	return nil
}

func (j *Job) finish(phase Phase, err error) {
	now := time.Now().UTC()

	j.mu.Lock()
	j.phase = phase
	if err != nil {
		j.lastErr = err.Error()
	}
	j.endedAt = &now
	done := j.done
	j.running.Store(false)
	j.shouldQuit.Store(false)
	j.slot.Release(1)
	j.mu.Unlock()

	close(done)
}

func errorCode(err error) string {
	switch {
	case contentstore.IsInvalidCredentials(err):
		return output.ErrCodeInvalidCredentials
	case contentstore.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case contentstore.IsNotFound(err):
		return output.ErrCodeNotFound
	case contentstore.IsUnavailable(err):
		return output.ErrCodeUnavailable
	default:
		return output.ErrCodeInternal
	}
}
