package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 100

// Handler processes one task. It pushes follow-up tasks onto q before it
// returns.
type Handler func(ctx context.Context, q *TaskQueue, t Task)

// WorkerManager runs a pool of workers over a TaskQueue.
type WorkerManager struct {
	// workers is the number of concurrent handlers
	workers int
	handler Handler
	logger  logging.Logger
	errs    *errors.ErrorHandler
	metrics *Metrics
}

// NewWorkerManager creates a worker manager. workers <= 0 selects
// DefaultConcurrency.
func NewWorkerManager(workers int, handler Handler, logger logging.Logger, errs *errors.ErrorHandler) *WorkerManager {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorkerManager{
		workers: workers,
		handler: handler,
		logger:  logger.WithComponent("scheduler"),
		errs:    errs,
		metrics: NewMetrics(),
	}
}

// Run seeds q with the initial tasks and processes until the queue drains or
// ctx is cancelled. It returns ctx.Err() in the latter case.
func (wm *WorkerManager) Run(ctx context.Context, q *TaskQueue, seed ...Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(seed) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	for _, t := range seed {
		q.Push(t)
	}

	var wg sync.WaitGroup
	for i := 0; i < wm.workers; i++ {
		wg.Add(1)
		go wm.worker(ctx, q, &wg)
	}

	select {
	case <-q.Drained():
	case <-ctx.Done():
	}
	q.Close()
	wg.Wait()

	select {
	case <-q.Drained():
		wm.logger.Debug(ctx, "queue drained", "tasks", wm.metrics.Snapshot().Processed)
		return nil
	default:
		return ctx.Err()
	}
}

func (wm *WorkerManager) worker(ctx context.Context, q *TaskQueue, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		wm.process(ctx, q, t)
	}
}

// process runs the handler and always marks the task done. A panicking
// handler only loses its own subtree.
func (wm *WorkerManager) process(ctx context.Context, q *TaskQueue, t Task) {
	start := time.Now()
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			err := errors.NewInternalError(errors.ErrCodeInternalError, "task handler panicked", fmt.Errorf("%v", r)).
				WithComponent("scheduler")
			if t.Element != nil {
				err = err.WithContext("element", t.Element.Data)
			}
			if wm.errs != nil {
				wm.errs.Handle(ctx, err, "task aborted")
			} else {
				wm.logger.Error(ctx, err, "task aborted")
			}
		}
		wm.metrics.Record(time.Since(start), failed)
		q.done()
	}()
	wm.handler(ctx, q, t)
}

// Metrics returns the metrics collected by this manager.
func (wm *WorkerManager) Metrics() *Metrics {
	return wm.metrics
}

// Workers returns the configured concurrency.
func (wm *WorkerManager) Workers() int {
	return wm.workers
}
