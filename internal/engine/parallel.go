package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/pkg/model"
)

// ParallelEngine executes each wavefront across a bounded pool of workers.
// Step results are fed back in wavefront order once the whole wavefront has
// run, so the graph evolves the same way as under the serial engine.
type ParallelEngine struct {
	base
	workers int64
}

var _ Engine = (*ParallelEngine)(nil)

// NewParallelEngine creates a parallel engine. workers <= 0 uses one worker
// per CPU.
func NewParallelEngine(s *scheduler.Scheduler, workers int, logger *slog.Logger, opts ...Option) *ParallelEngine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &ParallelEngine{
		base:    newBase("parallel", s, logging.Component(logger, "engine-parallel").With("workers", workers), opts),
		workers: int64(workers),
	}
}

func (e *ParallelEngine) Name() string { return e.name }

// Workers returns the pool size.
func (e *ParallelEngine) Workers() int { return int(e.workers) }

func (e *ParallelEngine) Execute(ctx context.Context, req *scheduler.ExecutionRequest) *Result {
	return e.run(ctx, req, e.batch)
}

func (e *ParallelEngine) batch(ctx context.Context, keys []model.Key) error {
	sem := semaphore.NewWeighted(e.workers)
	results := make([]*model.StepResult, len(keys))

	var wg sync.WaitGroup
	for i, k := range keys {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, k model.Key) {
			defer wg.Done()
			defer sem.Release(1)
			res := e.sched.Step(ctx, k)
			results[i] = &res
		}(i, k)
	}
	wg.Wait()

	var unexecuted []model.Key
	var firstErr error
	for i, k := range keys {
		if results[i] == nil || firstErr != nil {
			unexecuted = append(unexecuted, k)
			continue
		}
		firstErr = e.sched.Complete(k, *results[i])
	}
	e.release(unexecuted)
	return firstErr
}
