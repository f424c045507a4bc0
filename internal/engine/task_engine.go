// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// -- Interfaces for Dependency Inversion --

// Worker analyses one task and returns its report.
type Worker interface {
	ProcessTask(ctx context.Context, task schemas.Task) (*results.Report, error)
}

// Store persists task results.
type Store interface {
	PersistData(ctx context.Context, data *schemas.ResultEnvelope) error
}

// ReportHandler receives every finished report, partial ones included.
type ReportHandler func(task schemas.Task, report *results.Report)

const (
	defaultConcurrency = 4
	defaultTaskTimeout = 5 * time.Minute
	persistTimeout     = 30 * time.Second
)

// TaskEngine distributes tasks across a pool of workers. Every task gets its
// own engine instance inside the worker, so tasks never share sandbox state.
type TaskEngine struct {
	cfg      config.Interface
	logger   *zap.Logger
	store    Store
	worker   Worker
	onReport ReportHandler

	group *errgroup.Group

	stateLock sync.Mutex
	isRunning bool
}

// Option configures a TaskEngine.
type Option func(*TaskEngine)

// WithStore persists every report's envelope.
func WithStore(s Store) Option { return func(e *TaskEngine) { e.store = s } }

// WithReportHandler registers a callback for finished reports.
func WithReportHandler(h ReportHandler) Option { return func(e *TaskEngine) { e.onReport = h } }

// New creates a TaskEngine.
func New(cfg config.Interface, logger *zap.Logger, worker Worker, opts ...Option) (*TaskEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if worker == nil {
		return nil, errors.New("worker cannot be nil")
	}
	e := &TaskEngine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "task_engine")),
		worker: worker,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *TaskEngine) concurrency() int {
	if n := e.cfg.Engine().WorkerConcurrency; n > 0 {
		return n
	}
	return defaultConcurrency
}

func (e *TaskEngine) taskTimeout() time.Duration {
	if d := e.cfg.Engine().DefaultTaskTimeout; d > 0 {
		return d
	}
	return defaultTaskTimeout
}

// Start launches the worker pool. Workers exit when taskChan is closed and
// drained or when ctx is cancelled.
func (e *TaskEngine) Start(ctx context.Context, taskChan <-chan schemas.Task) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.isRunning {
		e.logger.Warn("TaskEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true

	concurrency := e.concurrency()
	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency))

	e.group = new(errgroup.Group)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		e.group.Go(func() error {
			e.runWorker(ctx, workerID, taskChan)
			return nil
		})
	}
}

// Stop waits for all workers to finish.
func (e *TaskEngine) Stop() {
	e.stateLock.Lock()
	group := e.group
	e.stateLock.Unlock()
	if group == nil {
		return
	}

	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	_ = group.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.group = nil
	e.stateLock.Unlock()
	e.logger.Info("Task engine stopped gracefully.")
}

func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan schemas.Task) {
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case task, ok := <-taskChan:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down.")
				return
			}
			_, _ = e.process(ctx, task, logger)
		}
	}
}

// process runs one task under the task timeout and hands the report on.
// A timed-out or cancelled task still reports what it found.
func (e *TaskEngine) process(ctx context.Context, task schemas.Task, logger *zap.Logger) (*results.Report, error) {
	logger = logger.With(zap.String("task_id", task.TaskID), zap.String("target", task.Target))
	logger.Info("Processing task", zap.String("task_type", string(task.Type)))

	if ctx.Err() != nil {
		logger.Warn("Context cancelled before task processing started", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}

	timeout := e.taskTimeout()
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := e.worker.ProcessTask(taskCtx, task)
	if err != nil {
		logger.Error("Task processing failed.", zap.Error(err))
		return nil, err
	}
	switch {
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		logger.Warn("Task timed out. Reporting partial results.", zap.Duration("timeout", timeout))
	case errors.Is(taskCtx.Err(), context.Canceled):
		logger.Warn("Task was cancelled. Reporting partial results.")
	}

	e.persist(report, logger)
	if e.onReport != nil {
		e.onReport(task, report)
	}
	return report, nil
}

func (e *TaskEngine) persist(report *results.Report, logger *zap.Logger) {
	if e.store == nil || report == nil {
		return
	}
	// Persist on a fresh context so shutdown does not lose finished work.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	envelope := report.Envelope()
	if err := e.store.PersistData(ctx, &envelope); err != nil {
		logger.Error("Failed to persist task results", zap.Error(err))
		return
	}
	logger.Debug("Persisted task results.", zap.Int("detections", len(envelope.Detections)))
}
