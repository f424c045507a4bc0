package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// Run processes a fixed batch of tasks with bounded concurrency and returns
// the reports in task order. The first task error cancels the rest.
func (e *TaskEngine) Run(ctx context.Context, tasks []schemas.Task) ([]*results.Report, error) {
	reports := make([]*results.Report, len(tasks))
	sem := semaphore.NewWeighted(int64(e.concurrency()))
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			report, err := e.process(gctx, task, e.logger)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, ctx.Err()
}
