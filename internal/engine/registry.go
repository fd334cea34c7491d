package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/scheduler"
)

// Factory builds an engine over a scheduler.
type Factory func(s *scheduler.Scheduler, workers int, logger *slog.Logger, opts ...Option) Engine

// Registry maps engine names to their factories. The serial and parallel
// engines are always present. Registration happens at startup before
// concurrent access, so no mutex is needed.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a Registry holding the built-in engines.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logging.Component(logger, "engine-registry"),
	}
	r.Register("serial", func(s *scheduler.Scheduler, _ int, l *slog.Logger, opts ...Option) Engine {
		return NewSerialEngine(s, l, opts...)
	})
	r.Register("parallel", func(s *scheduler.Scheduler, workers int, l *slog.Logger, opts ...Option) Engine {
		return NewParallelEngine(s, workers, l, opts...)
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
	r.logger.Debug("engine registered", "name", name)
}

// New builds the engine registered as name.
func (r *Registry) New(name string, s *scheduler.Scheduler, workers int, logger *slog.Logger, opts ...Option) (Engine, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("no engine registered as %q (have %v)", name, r.Names())
	}
	return f(s, workers, logger, opts...), nil
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
