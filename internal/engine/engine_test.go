package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/pkg/model"
)

const str model.Type = "string"

func newScheduler(t *testing.T, rs ...*rules.Rule) *scheduler.Scheduler {
	t.Helper()
	reg := rules.NewRegistry(logging.Discard())
	if err := reg.Register(rs...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return scheduler.New(reg, nil, scheduler.WithLogger(logging.Discard()))
}

func engines(s *scheduler.Scheduler) []Engine {
	return []Engine{
		NewSerialEngine(s, logging.Discard()),
		NewParallelEngine(s, 4, logging.Discard()),
	}
}

// buildRules describes a small build: every module's object depends on its
// own source and on the objects of the modules it imports.
func buildRules(objCalls *atomic.Int32) []*rules.Rule {
	imports := map[string][]string{
		"app":  {"lib", "util"},
		"lib":  {"util"},
		"util": nil,
		"bad":  {"util", "missing"},
	}
	return []*rules.Rule{
		rules.Task("source", str, "Source", rules.Func(func(_ context.Context, s any, _ []any) (any, error) {
			if s == "missing" {
				return nil, errors.New("no such module")
			}
			return "src:" + s.(string), nil
		})),
		rules.Task("imports", str, "Imports", rules.Func(func(_ context.Context, s any, _ []any) (any, error) {
			return model.CollectionOf(imports[s.(string)]...), nil
		})),
		rules.Task("object", str, "Object", rules.Func(func(_ context.Context, _ any, deps []any) (any, error) {
			objCalls.Add(1)
			parts := []string{deps[0].(string)}
			for _, d := range deps[1].([]any) {
				parts = append(parts, d.(string))
			}
			return strings.Join(parts, "+"), nil
		}), rules.Select{Product: "Source"}, rules.SelectDependencies{Product: "Object", DepProduct: "Imports"}),
	}
}

func TestEngines_SameOutcome(t *testing.T) {
	var want []outcome
	for _, name := range []string{"serial", "parallel"} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			s := newScheduler(t, buildRules(&calls)...)
			eng, err := NewRegistry(logging.Discard()).New(name, s, 3, logging.Discard())
			if err != nil {
				t.Fatal(err)
			}
			req, err := s.ExecutionRequest([]model.Type{"Object"}, []any{"app", "lib", "bad"})
			if err != nil {
				t.Fatal(err)
			}

			res := eng.Execute(context.Background(), req)
			if res.Error != nil {
				t.Fatalf("Execute: %v", res.Error)
			}
			if got := res.Roots[0].State; got.Value != "src:app+src:lib+src:util+src:util" {
				t.Errorf("Object(app) = %v", got)
			}
			if failed := res.Failed(); len(failed) != 1 || failed[0].Key.Subject != "bad" {
				t.Errorf("Failed() = %v, want only bad", failed)
			}
			// app, lib, util; bad never runs because missing fails.
			if n := calls.Load(); n != 3 {
				t.Errorf("object ran %d times, want 3", n)
			}

			got := normalize(res.Roots)
			if want == nil {
				want = got
				return
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("outcome differs from serial engine (-serial +%s):\n%s", name, diff)
			}
		})
	}
}

type outcome struct {
	Key   string
	Kind  model.StateKind
	Value any
	Err   string
}

func normalize(roots []scheduler.RootResult) []outcome {
	out := make([]outcome, len(roots))
	for i, r := range roots {
		out[i] = outcome{Key: r.Key.String(), Kind: r.State.Kind, Value: r.State.Value}
		if r.State.Err != nil {
			out[i].Err = r.State.Err.Error()
		}
	}
	return out
}

func TestEngines_CycleDetected(t *testing.T) {
	pass := rules.Func(func(_ context.Context, _ any, deps []any) (any, error) { return deps[0], nil })
	for _, newEngine := range []func(*scheduler.Scheduler) Engine{
		func(s *scheduler.Scheduler) Engine { return NewSerialEngine(s, nil) },
		func(s *scheduler.Scheduler) Engine { return NewParallelEngine(s, 2, nil) },
	} {
		s := newScheduler(t,
			rules.Task("a", str, "A", pass, rules.Select{Product: "B"}),
			rules.Task("b", str, "B", pass, rules.Select{Product: "C"}),
			rules.Task("c", str, "C", pass, rules.Select{Product: "A"}),
		)
		eng := newEngine(s)
		req, _ := s.ExecutionRequest([]model.Type{"A"}, []any{"x"})
		res := eng.Execute(context.Background(), req)
		if res.Error != nil {
			t.Fatalf("%s: Execute: %v", eng.Name(), res.Error)
		}
		st := res.Roots[0].State
		if st.Kind != model.StateThrow || !errors.Is(st.Err, model.ErrCycle) {
			t.Errorf("%s: A(x) = %v, want Throw(cycle)", eng.Name(), st)
		}
	}
}

func TestParallelEngine_SharedDependencyOnce(t *testing.T) {
	var calls atomic.Int32
	s := newScheduler(t,
		rules.Task("shared", str, "Shared", rules.Func(func(context.Context, any, []any) (any, error) {
			calls.Add(1)
			time.Sleep(time.Millisecond)
			return 1, nil
		})),
		rules.Task("use", str, "Use", rules.Func(func(_ context.Context, s any, deps []any) (any, error) {
			return fmt.Sprintf("%s:%d", s, deps[0]), nil
		}), rules.SelectLiteral{Subject: "common", Product: "Shared"}),
	)
	subjects := make([]any, 20)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("s%d", i)
	}
	req, _ := s.ExecutionRequest([]model.Type{"Use"}, subjects)

	res := NewParallelEngine(s, 8, logging.Discard()).Execute(context.Background(), req)
	if res.Error != nil || len(res.Failed()) > 0 {
		t.Fatalf("Execute: %v, failed %v", res.Error, res.Failed())
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("shared ran %d times, want 1", n)
	}
	if got := res.Roots[19].State.Value; got != "s19:1" {
		t.Errorf("Use(s19) = %v", got)
	}
}

func TestParallelEngine_RunsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	s := newScheduler(t, rules.Task("rendezvous", str, "Meet", rules.Func(func(context.Context, any, []any) (any, error) {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return "met", nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("peer never started")
		}
	})))
	req, _ := s.ExecutionRequest([]model.Type{"Meet"}, []any{"x", "y"})

	res := NewParallelEngine(s, 2, logging.Discard()).Execute(context.Background(), req)
	for _, r := range res.Roots {
		if r.State.Kind != model.StateReturn {
			t.Errorf("%s = %v", r.Key, r.State)
		}
	}
}

func TestSerialEngine_CancelReleasesClaims(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	s := newScheduler(t, rules.Task("work", str, "Work", rules.Func(func(context.Context, any, []any) (any, error) {
		calls.Add(1)
		cancel()
		return "done", nil
	})))
	req, _ := s.ExecutionRequest([]model.Type{"Work"}, []any{"a", "b"})
	eng := NewSerialEngine(s, logging.Discard())

	res := eng.Execute(ctx, req)
	if !errors.Is(res.Error, context.Canceled) {
		t.Fatalf("Execute error = %v, want context.Canceled", res.Error)
	}
	if res.Roots[1].State.Kind != model.StateRunnable {
		t.Errorf("second root = %v, want released to Runnable", res.Roots[1].State)
	}

	res = eng.Execute(context.Background(), req)
	if res.Error != nil {
		t.Fatalf("rerun: %v", res.Error)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("work ran %d times, want 2", n)
	}
}

func TestParallelEngine_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newScheduler(t, rules.Constant("c", str, "C", 1))
	req, _ := s.ExecutionRequest([]model.Type{"C"}, []any{"a"})

	res := NewParallelEngine(s, 0, logging.Discard()).Execute(ctx, req)
	if !errors.Is(res.Error, context.Canceled) {
		t.Errorf("Execute error = %v, want context.Canceled", res.Error)
	}
	if res.Roots[0].State.Kind != model.StateRunnable {
		t.Errorf("root = %v, want untouched", res.Roots[0].State)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(logging.Discard())
	s := newScheduler(t)

	if diff := cmp.Diff([]string{"parallel", "serial"}, reg.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	eng, err := reg.New("parallel", s, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pe, ok := eng.(*ParallelEngine); !ok || pe.Workers() < 1 {
		t.Errorf("New(parallel) = %T", eng)
	}
	if _, err := reg.New("distributed", s, 1, nil); err == nil {
		t.Error("unknown engine should fail")
	}
}
