// Package orchestrator drives one scan end to end against the scanner daemon:
// cleanup, target and task creation, start, polling, report retrieval and a
// final cleanup that runs whatever happened before it.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/gvmscan/internal/cleanup"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/metrics"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateIdle          State = "Idle"
	StateCleaning      State = "Cleaning"
	StateTargetCreated State = "TargetCreated"
	StateTaskCreated   State = "TaskCreated"
	StateStarted       State = "Started"
	StatePolling       State = "Polling"
	StateReportFetched State = "ReportFetched"
	StateCleaningFinal State = "CleaningFinal"
	StateDone          State = "Done"
	StateFailed        State = "Failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

const (
	defaultPollInterval      = 10 * time.Second
	defaultMaxPollInterval   = 2 * time.Minute
	defaultBackoffMultiplier = 2.0
	defaultNamePrefix        = "gvmscan"
	runIDPrefixLen           = 8
)

var errPollTimeout = stderrors.New("poll deadline exceeded")

// Daemon is the set of object operations a run needs.
type Daemon interface {
	cleanup.Repository
	CreateTarget(ctx context.Context, spec gmp.TargetSpec) (string, error)
	CreateTask(ctx context.Context, spec gmp.TaskSpec) (string, error)
	StartTask(ctx context.Context, taskID string) error
	TaskStatus(ctx context.Context, taskID string) (*gmp.TaskStatus, error)
	GetReport(ctx context.Context, reportID, formatID string) (*gmp.Report, error)
}

// Cleaner empties the daemon namespace.
type Cleaner interface {
	Cleanup(ctx context.Context) *cleanup.Result
}

// ReportWriter persists a fetched report.
type ReportWriter interface {
	SaveReport(path string, r *gmp.Report, formatID string) error
}

// RunRecorder stores run snapshots. Failures never change a run outcome.
type RunRecorder interface {
	RecordRun(ctx context.Context, s Snapshot) error
}

// Options tunes the poll loop and object naming.
type Options struct {
	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	BackoffMultiplier float64

	// Timeout bounds the poll loop; zero waits until the task is done.
	Timeout time.Duration

	NamePrefix string
}

// DefaultOptions returns the standard poll cadence.
func DefaultOptions() Options {
	return Options{
		PollInterval:      defaultPollInterval,
		MaxPollInterval:   defaultMaxPollInterval,
		BackoffMultiplier: defaultBackoffMultiplier,
		NamePrefix:        defaultNamePrefix,
	}
}

// Snapshot is the observable state of a run.
type Snapshot struct {
	RunID        string     `json:"run_id" db:"id"`
	Target       string     `json:"target" db:"target"`
	Profile      string     `json:"profile" db:"profile"`
	ReportFormat string     `json:"report_format" db:"report_format"`
	OutputPath   string     `json:"output_path" db:"output_path"`
	State        State      `json:"state" db:"state"`
	TargetID     string     `json:"target_id,omitempty" db:"target_id"`
	TaskID       string     `json:"task_id,omitempty" db:"task_id"`
	ReportID     string     `json:"report_id,omitempty" db:"report_id"`
	TaskStatus   string     `json:"task_status,omitempty" db:"task_status"`
	Progress     int        `json:"progress" db:"progress"`
	Polls        int        `json:"polls" db:"polls"`
	PollFailures int        `json:"poll_failures" db:"poll_failures"`
	Error        string     `json:"error,omitempty" db:"error"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Result is returned by Run once the final cleanup pass has completed.
type Result struct {
	Snapshot
	InitialCleanup *cleanup.Result
	FinalCleanup   *cleanup.Result
}

// Orchestrator runs scans one at a time.
type Orchestrator struct {
	daemon  Daemon
	writer  ReportWriter
	cleaner Cleaner
	opts    Options

	logger   *logging.Logger
	out      io.Writer
	metrics  *metrics.PrometheusMetrics
	recorder RunRecorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	snapshot Snapshot
}

// New creates an orchestrator. Missing options fall back to the defaults.
func New(daemon Daemon, writer ReportWriter, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = 1
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = def.NamePrefix
	}

	return &Orchestrator{
		daemon:   daemon,
		writer:   writer,
		opts:     opts,
		logger:   logging.Default(),
		out:      io.Discard,
		sleep:    sleepContext,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		snapshot: Snapshot{State: StateIdle},
	}
}

// WithLogger sets the structured logger.
func (o *Orchestrator) WithLogger(l *logging.Logger) *Orchestrator {
	o.logger = l
	return o
}

// WithOutput sets where user-facing status lines are written.
func (o *Orchestrator) WithOutput(w io.Writer) *Orchestrator {
	o.out = w
	return o
}

// WithMetrics sets the metrics collector.
func (o *Orchestrator) WithMetrics(m *metrics.PrometheusMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithRecorder sets the run history store.
func (o *Orchestrator) WithRecorder(r RunRecorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithCleaner replaces the cleanup coordinator built from the daemon.
func (o *Orchestrator) WithCleaner(c Cleaner) *Orchestrator {
	o.cleaner = c
	return o
}

// Snapshot returns a copy of the current run state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Run executes one scan. The request is validated before any daemon call;
// invalid requests return a *errors.ConfigError and a nil result. Every
// other outcome runs the final cleanup pass before returning.
func (o *Orchestrator) Run(ctx context.Context, req ScanRequest) (*Result, error) {
	p, err := req.resolve()
	if err != nil {
		return nil, err
	}

	runID := o.newID()
	logger := o.logger.WithRunID(runID).WithComponent("orchestrator")
	started := o.now()

	o.update(func(s *Snapshot) {
		*s = Snapshot{
			RunID:        runID,
			Target:       p.Target,
			Profile:      p.profile.Name,
			ReportFormat: p.format.Name,
			OutputPath:   p.OutputPath,
			State:        StateIdle,
			StartedAt:    started,
		}
	})
	o.metrics.RunStarted()
	o.record(ctx, logger)

	cleaner := o.cleaner
	if cleaner == nil {
		cleaner = cleanup.NewCoordinator(o.daemon, o.logger.WithRunID(runID), o.metrics)
	}

	result := &Result{}
	runErr := o.drive(ctx, p, runID, cleaner, result, logger)

	// Final cleanup must run even when ctx has been canceled.
	failedIn := o.Snapshot().State
	o.transition(StateCleaningFinal, logger)
	o.printf("Performing cleanup...\n")
	result.FinalCleanup = cleaner.Cleanup(context.WithoutCancel(ctx))

	finished := o.now()
	outcome := "done"
	if runErr != nil {
		runErr = o.classify(ctx, runErr, p.Target, failedIn)
		outcome = "failed"
		if errors.IsCode(runErr, errors.CodeTimeout) {
			outcome = "timeout"
		} else if errors.IsCode(runErr, errors.CodeCanceled) {
			outcome = "canceled"
		}
		o.update(func(s *Snapshot) { s.Error = runErr.Error() })
		o.transition(StateFailed, logger)
		logger.ErrorScan("Scan failed", p.Target, runErr, "failed_state", failedIn)
	} else {
		o.transition(StateDone, logger)
		o.printf("Done!\n")
	}
	o.update(func(s *Snapshot) { s.FinishedAt = &finished })

	o.metrics.RunFinished(p.profile.Name, outcome, finished.Sub(started))
	o.record(context.WithoutCancel(ctx), logger)

	result.Snapshot = o.Snapshot()
	return result, runErr
}

// drive performs every forward transition up to a persisted report.
func (o *Orchestrator) drive(ctx context.Context, p *plan, runID string, cleaner Cleaner,
	result *Result, logger *logging.Logger) error {
	o.transition(StateCleaning, logger)
	o.printf("Performing initial cleanup...\n")
	result.InitialCleanup = cleaner.Cleanup(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%s", o.opts.NamePrefix, shortID(runID))

	targetID, err := o.daemon.CreateTarget(ctx, gmp.TargetSpec{
		Name:         name,
		Hosts:        p.Target,
		ExcludeHosts: p.ExcludeHosts,
		AliveTest:    p.AliveTest,
		PortListID:   p.PortListID,
	})
	if err != nil {
		return err
	}
	o.update(func(s *Snapshot) { s.TargetID = targetID })
	o.transition(StateTargetCreated, logger)
	o.printf("Created target.\n")

	taskID, err := o.daemon.CreateTask(ctx, gmp.TaskSpec{
		Name:      name,
		Comment:   "run " + runID,
		TargetID:  targetID,
		ConfigID:  p.profile.ID,
		ScannerID: p.ScannerID,
	})
	if err != nil {
		return err
	}
	o.update(func(s *Snapshot) { s.TaskID = taskID })
	o.transition(StateTaskCreated, logger)
	o.printf("Created task.\n")

	if err := o.daemon.StartTask(ctx, taskID); err != nil {
		return err
	}
	o.transition(StateStarted, logger)
	o.printf("Started task.\n")
	o.record(ctx, logger)

	o.transition(StatePolling, logger)
	o.printf("Waiting for task to finish...\n")
	status, err := o.pollWithTimeout(ctx, taskID, logger.WithTaskID(taskID))
	if err != nil {
		return err
	}

	if status.ReportID == "" {
		return errors.ErrMissingField("get_tasks", "task/last_report/report/@id")
	}
	o.update(func(s *Snapshot) { s.ReportID = status.ReportID })

	report, err := o.daemon.GetReport(ctx, status.ReportID, p.format.ID)
	if err != nil {
		return err
	}
	o.transition(StateReportFetched, logger)
	o.printf("Generated report.\n")

	if err := o.writer.SaveReport(p.OutputPath, report, p.format.ID); err != nil {
		return err
	}
	logger.Info("Saved report", "path", p.OutputPath, "format", p.format.Name, "report_id", status.ReportID)
	o.printf("Saved report to %s.\n", p.OutputPath)
	return nil
}

func (o *Orchestrator) pollWithTimeout(ctx context.Context, taskID string, logger *logging.Logger) (*gmp.TaskStatus, error) {
	if o.opts.Timeout <= 0 {
		return o.poll(ctx, taskID, logger)
	}
	pollCtx, cancel := context.WithTimeoutCause(ctx, o.opts.Timeout, errPollTimeout)
	defer cancel()

	status, err := o.poll(pollCtx, taskID, logger)
	if err != nil && ctx.Err() == nil && stderrors.Is(context.Cause(pollCtx), errPollTimeout) {
		return nil, errPollTimeout
	}
	return status, err
}

// poll queries the task every interval until it reports Done. Transport
// failures stretch the interval and are retried; any other failure ends the
// loop. Only the status value decides termination.
func (o *Orchestrator) poll(ctx context.Context, taskID string, logger *logging.Logger) (*gmp.TaskStatus, error) {
	interval := o.opts.PollInterval
	for {
		if err := o.sleep(ctx, interval); err != nil {
			return nil, err
		}

		status, err := o.daemon.TaskStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.IsRetryable(err) {
				o.metrics.RecordPoll("error")
				return nil, err
			}
			o.metrics.RecordPoll("transport_error")
			o.update(func(s *Snapshot) {
				s.Polls++
				s.PollFailures++
			})
			interval = o.backoff(interval)
			logger.Warn("Task status query failed, retrying", "error", err, "next_poll", interval)
			o.printf("Error: %v\n", err)
			continue
		}

		interval = o.opts.PollInterval
		o.metrics.RecordPoll("ok")
		o.metrics.SetTaskProgress(status.Progress)
		o.update(func(s *Snapshot) {
			s.Polls++
			s.TaskStatus = status.Status
			s.Progress = status.Progress
		})
		logger.Debug("Task status", "status", status.Status, "progress", status.Progress)
		o.printf("%s\n", StatusLine(status))

		if status.Done() {
			return status, nil
		}
	}
}

func (o *Orchestrator) backoff(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * o.opts.BackoffMultiplier)
	if next > o.opts.MaxPollInterval {
		return o.opts.MaxPollInterval
	}
	return next
}

// classify wraps a run failure in a ScanError carrying the failed state.
func (o *Orchestrator) classify(ctx context.Context, err error, target string, state State) error {
	var scanErr *errors.ScanError
	switch {
	case stderrors.Is(err, errPollTimeout):
		scanErr = errors.ErrScanTimeout(target, fmt.Errorf("no result after %s", o.opts.Timeout))
	case ctx.Err() != nil:
		scanErr = errors.ErrScanCanceled(target, context.Cause(ctx))
	default:
		scanErr = errors.WrapScanErrorWithTarget(errors.CodeScanFailed,
			fmt.Sprintf("Scan failed in state %s", state), target, err)
	}
	scanErr.State = string(state)
	return scanErr
}

// StatusLine renders a task status for the console. A non-positive progress
// reads as complete since the daemon reports -1 or 0 for finished tasks.
func StatusLine(s *gmp.TaskStatus) string {
	if s.Progress > 0 {
		return fmt.Sprintf("Task status: %s %d%%", s.Status, s.Progress)
	}
	return "Task status: Complete"
}

func (o *Orchestrator) transition(state State, logger *logging.Logger) {
	o.update(func(s *Snapshot) { s.State = state })
	o.metrics.RecordStateTransition(string(state))
	logger.Debug("State transition", "state", state)
}

func (o *Orchestrator) update(fn func(s *Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.snapshot)
}

func (o *Orchestrator) record(ctx context.Context, logger *logging.Logger) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordRun(ctx, o.Snapshot()); err != nil {
		logger.Warn("Failed to record run history", "error", err)
	}
}

func (o *Orchestrator) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.out, format, args...)
}

func shortID(id string) string {
	if len(id) > runIDPrefixLen {
		return id[:runIDPrefixLen]
	}
	return id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
