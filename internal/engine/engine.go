// Package engine drives a scheduler to a fixed point. An engine repeatedly
// claims the runnable wavefront, executes it and feeds the results back
// until every root of the request is terminal.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/prodgraph/internal/metrics"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/pkg/model"
)

// Engine executes requests against a scheduler.
type Engine interface {
	Name() string
	// Execute runs req until every root is terminal, the graph reaches a
	// fixed point, or ctx is done.
	Execute(ctx context.Context, req *scheduler.ExecutionRequest) *Result
}

// Result is the outcome of one execution. Error reports structural problems
// or cancellation; individual root failures are in Roots.
type Result struct {
	RequestID string
	Error     error
	Roots     []scheduler.RootResult
	Duration  time.Duration
}

// Failed returns the roots that ended in Throw.
func (r *Result) Failed() []scheduler.RootResult {
	var out []scheduler.RootResult
	for _, root := range r.Roots {
		if root.State.Kind == model.StateThrow {
			out = append(out, root)
		}
	}
	return out
}

// Option configures an engine.
type Option func(*base)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *base) { b.recorder = r }
}

// base holds what both engines share: the wavefront loop around a
// strategy for executing one batch of claimed nodes.
type base struct {
	name     string
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	recorder metrics.Recorder
}

func newBase(name string, s *scheduler.Scheduler, logger *slog.Logger, opts []Option) base {
	b := base{
		name:     name,
		sched:    s,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// batchFunc executes a claimed wavefront. It must pass every key to either
// Complete or Release and returns the first bookkeeping error.
type batchFunc func(ctx context.Context, keys []model.Key) error

func (b *base) run(ctx context.Context, req *scheduler.ExecutionRequest, batch batchFunc) *Result {
	start := time.Now()
	res := &Result{RequestID: req.ID}
	log := b.logger.With("request_id", req.ID)
	log.Info("execution started", "roots", len(req.Roots))

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			res.Error = err
			break
		}
		keys := b.sched.Schedule(req)
		if len(keys) > 0 {
			b.recorder.ObserveWavefront(b.name, len(keys))
			log.Debug("wavefront", "round", round, "size", len(keys))
			if err := batch(ctx, keys); err != nil {
				res.Error = err
				break
			}
		}
		done, err := b.sched.Done(req)
		if err != nil {
			res.Error = err
			break
		}
		if done {
			break
		}
	}

	res.Roots = b.sched.Results(req)
	res.Duration = time.Since(start)
	outcome := metrics.OutcomeReturn
	switch {
	case ctx.Err() != nil && res.Error == ctx.Err():
		outcome = metrics.OutcomeCanceled
	case res.Error != nil || len(res.Failed()) > 0:
		outcome = metrics.OutcomeThrow
	}
	b.recorder.ObserveExecution(b.name, outcome, res.Duration)

	if res.Error != nil {
		log.Warn("execution stopped", "error", res.Error, "duration", res.Duration)
	} else {
		log.Info("execution finished", "failed", len(res.Failed()), "nodes", b.sched.Len(), "duration", res.Duration)
	}
	return res
}

// release returns unexecuted claims to the scheduler.
func (b *base) release(keys []model.Key) {
	for _, k := range keys {
		if err := b.sched.Release(k); err != nil {
			b.logger.Error("release node", "node", k.String(), "error", err)
		}
	}
}
