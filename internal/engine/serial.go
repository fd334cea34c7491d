package engine

import (
	"context"
	"log/slog"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/pkg/model"
)

// SerialEngine executes one node at a time, in creation order, completing
// each before stepping the next.
type SerialEngine struct {
	base
}

var _ Engine = (*SerialEngine)(nil)

// NewSerialEngine creates a serial engine over s.
func NewSerialEngine(s *scheduler.Scheduler, logger *slog.Logger, opts ...Option) *SerialEngine {
	return &SerialEngine{base: newBase("serial", s, logging.Component(logger, "engine-serial"), opts)}
}

func (e *SerialEngine) Name() string { return e.name }

func (e *SerialEngine) Execute(ctx context.Context, req *scheduler.ExecutionRequest) *Result {
	return e.run(ctx, req, e.batch)
}

func (e *SerialEngine) batch(ctx context.Context, keys []model.Key) error {
	for i, k := range keys {
		if ctx.Err() != nil {
			e.release(keys[i:])
			return nil
		}
		if err := e.sched.Complete(k, e.sched.Step(ctx, k)); err != nil {
			e.release(keys[i+1:])
			return err
		}
	}
	return nil
}
