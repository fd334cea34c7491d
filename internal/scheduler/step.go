package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/prodgraph/internal/metrics"
	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/internal/store"
	"github.com/me/prodgraph/pkg/model"
)

// Step runs the next step of a claimed node and returns its result without
// touching the graph. The result must be passed to Complete.
//
// A node is computed by the identity shortcut, a constant rule, or a task
// whose selectors resolve first. Unresolved selector inputs come back as
// NeedsDependencies; the task body only runs once all of them are terminal.
func (s *Scheduler) Step(ctx context.Context, key model.Key) (res model.StepResult) {
	start := time.Now()
	defer func() { s.recorder.ObserveStep(stepOutcome(res), time.Since(start)) }()

	if key.SubjectType() == key.Product {
		return model.Value(key.Subject)
	}
	rule, ok := s.rule(key)
	if !ok {
		return model.Error(fmt.Errorf("no rule selected for %s", key))
	}
	if rule.IsConstant() {
		return model.Value(rule.Value)
	}

	r := &resolver{s: s, node: key}
	deps := r.resolve(rule.Selectors)
	switch {
	case r.err != nil:
		return model.Error(taskError(rule, key, r.err))
	case r.skip != "":
		return model.Skip(r.skip)
	case len(r.missing) > 0:
		return model.NeedsDependencies(r.missing...)
	}

	fp, cacheable := s.fingerprint(key, rule)
	if cacheable {
		if v, hit := s.loadCached(ctx, fp, key); hit {
			return model.Value(v)
		}
	}

	res = s.runTask(ctx, key, rule, deps)
	if res.Kind == model.StepValue && cacheable {
		s.saveCached(ctx, fp, rule, key, res.Value)
	}
	return res
}

func (s *Scheduler) runTask(ctx context.Context, key model.Key, rule *rules.Rule, deps []any) (res model.StepResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("task panicked", "rule", rule.Name, "node", key.String(), "panic", p)
			res = model.Error(&model.TaskError{Rule: rule.Name, Key: key, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	s.logger.Debug("run task", "rule", rule.Name, "node", key.String())
	lookup := func(dep model.Key) (model.State, bool) { return s.dependencyState(key, dep) }
	res = rule.Func(ctx, rules.NewTaskInput(key, deps, lookup))
	if res.Kind == model.StepError {
		res.Err = taskError(rule, key, res.Err)
	}
	return res
}

// taskError attributes err to rule unless it already names its origin.
func taskError(rule *rules.Rule, key model.Key, err error) error {
	if err == nil {
		err = errors.New("task reported an error without a cause")
	}
	var te *model.TaskError
	var de *model.DependencyError
	if errors.As(err, &te) || errors.As(err, &de) {
		return err
	}
	return &model.TaskError{Rule: rule.Name, Key: key, Err: err}
}

// fingerprint derives the storage key of the node's result from its rule and
// the values of every declared dependency. It reports false when the result
// cannot be persisted.
func (s *Scheduler) fingerprint(key model.Key, rule *rules.Rule) (string, bool) {
	if s.store == nil || s.codec == nil || rule.Uncacheable {
		return "", false
	}
	deps := s.dependencyStates(key)
	inputs := make([][]byte, 0, len(deps))
	for _, d := range deps {
		switch d.State.Kind {
		case model.StateReturn:
			name, data, err := s.codec.Encode(d.State.Value)
			if err != nil {
				return "", false
			}
			inputs = append(inputs, append([]byte(name+":"), data...))
		case model.StateNoop:
			inputs = append(inputs, []byte("noop"))
		default:
			return "", false
		}
	}
	return store.Fingerprint(rule.Name, rule.Version, key, inputs...), true
}

func (s *Scheduler) loadCached(ctx context.Context, fp string, key model.Key) (any, bool) {
	e, ok, err := s.store.Load(ctx, fp)
	if err != nil {
		s.logger.Warn("cache load", "node", key.String(), "error", err)
		return nil, false
	}
	if !ok {
		s.recorder.IncCacheLookup(false)
		return nil, false
	}
	v, err := s.codec.Decode(model.Type(e.Type), e.Data)
	if err != nil {
		s.logger.Warn("cache decode", "node", key.String(), "type", e.Type, "error", err)
		s.recorder.IncCacheLookup(false)
		return nil, false
	}
	s.recorder.IncCacheLookup(true)
	s.logger.Debug("cache hit", "node", key.String())
	return v, true
}

func (s *Scheduler) saveCached(ctx context.Context, fp string, rule *rules.Rule, key model.Key, v any) {
	name, data, err := s.codec.Encode(v)
	if errors.Is(err, store.ErrUnregistered) {
		return
	}
	if err != nil {
		s.logger.Warn("cache encode", "node", key.String(), "error", err)
		return
	}
	if err := s.store.Save(ctx, store.Entry{Key: fp, Type: string(name), Rule: rule.Name, Data: data}); err != nil {
		s.logger.Warn("cache save", "node", key.String(), "error", err)
	}
}

func stepOutcome(res model.StepResult) metrics.Outcome {
	switch res.Kind {
	case model.StepValue:
		return metrics.OutcomeReturn
	case model.StepError:
		return metrics.OutcomeThrow
	case model.StepSkip:
		return metrics.OutcomeNoop
	}
	return metrics.OutcomeWait
}
