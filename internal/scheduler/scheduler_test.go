package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/internal/store"
	"github.com/me/prodgraph/pkg/model"
)

const str model.Type = "string"

func newTestScheduler(t *testing.T, st store.Store, rs []*rules.Rule, opts ...Option) *Scheduler {
	t.Helper()
	reg := rules.NewRegistry(logging.Discard())
	if err := reg.Register(rs...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(reg, st, opts...)
}

// execute drives req to completion one node at a time.
func execute(t *testing.T, s *Scheduler, req *ExecutionRequest) []RootResult {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		for _, k := range s.Schedule(req) {
			if err := s.Complete(k, s.Step(ctx, k)); err != nil {
				t.Fatalf("Complete(%s): %v", k, err)
			}
		}
		done, err := s.Done(req)
		if err != nil {
			t.Fatalf("Done: %v", err)
		}
		if done {
			return s.Results(req)
		}
	}
	t.Fatal("execution did not reach a fixed point")
	return nil
}

func request(t *testing.T, s *Scheduler, products []model.Type, subjects ...any) *ExecutionRequest {
	t.Helper()
	req, err := s.ExecutionRequest(products, subjects)
	if err != nil {
		t.Fatalf("ExecutionRequest: %v", err)
	}
	return req
}

func single(t *testing.T, s *Scheduler, product model.Type, subject any) model.State {
	t.Helper()
	res := execute(t, s, request(t, s, []model.Type{product}, subject))
	return res[0].State
}

func counted(n *atomic.Int32, fn func(subject any, deps []any) (any, error)) rules.TaskFunc {
	return rules.Func(func(_ context.Context, subject any, deps []any) (any, error) {
		n.Add(1)
		return fn(subject, deps)
	})
}

func upperLowerRules(contentCalls *atomic.Int32) []*rules.Rule {
	return []*rules.Rule{
		rules.Task("content", str, "Content", counted(contentCalls, func(s any, _ []any) (any, error) {
			return "Hello " + s.(string), nil
		})),
		rules.Task("upper", str, "Upper", rules.Func(func(_ context.Context, _ any, deps []any) (any, error) {
			return strings.ToUpper(deps[0].(string)), nil
		}), rules.Select{Product: "Content"}),
		rules.Task("lower", str, "Lower", rules.Func(func(_ context.Context, _ any, deps []any) (any, error) {
			return strings.ToLower(deps[0].(string)), nil
		}), rules.Select{Product: "Content"}),
	}
}

func TestSharedDependencyRunsOnce(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls))

	got := execute(t, s, request(t, s, []model.Type{"Upper", "Lower"}, "World"))

	want := []any{"HELLO WORLD", "hello world"}
	for i, r := range got {
		if r.State.Kind != model.StateReturn || r.State.Value != want[i] {
			t.Errorf("root %s = %v, want Return(%v)", r.Key, r.State, want[i])
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("content ran %d times, want 1", n)
	}
}

func TestCycleIsReported(t *testing.T) {
	identity := rules.Func(func(_ context.Context, _ any, deps []any) (any, error) { return deps[0], nil })
	s := newTestScheduler(t, nil, []*rules.Rule{
		rules.Task("a", str, "A", identity, rules.Select{Product: "B"}),
		rules.Task("b", str, "B", identity, rules.Select{Product: "A"}),
	})

	st := single(t, s, "A", "x")
	if st.Kind != model.StateThrow {
		t.Fatalf("A(x) = %v, want Throw", st)
	}
	var ce *model.CycleError
	if !errors.As(st.Err, &ce) {
		t.Fatalf("error %v is not a CycleError", st.Err)
	}
	a := model.Key{Subject: "x", Product: "A"}
	b := model.Key{Subject: "x", Product: "B"}
	if diff := cmp.Diff([]model.Key{b, a, b}, ce.Path); diff != "" {
		t.Errorf("cycle path mismatch (-want +got):\n%s", diff)
	}
}

func TestFailureIsCachedAcrossRequests(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, []*rules.Rule{
		rules.Task("boom", str, "Boom", counted(&calls, func(any, []any) (any, error) {
			return nil, errors.New("kaboom")
		})),
	})

	for i := 0; i < 2; i++ {
		st := single(t, s, "Boom", "x")
		if st.Kind != model.StateThrow || !strings.Contains(st.Err.Error(), "kaboom") {
			t.Fatalf("run %d: Boom(x) = %v", i, st)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("boom ran %d times, want 1", n)
	}
}

func TestThrowPropagatesWithoutRunningDependents(t *testing.T) {
	var middle, root atomic.Int32
	pass := func(n *atomic.Int32) rules.TaskFunc {
		return counted(n, func(_ any, deps []any) (any, error) { return deps[0], nil })
	}
	s := newTestScheduler(t, nil, []*rules.Rule{
		rules.Task("fail", str, "F", rules.Func(func(context.Context, any, []any) (any, error) {
			return nil, errors.New("broken input")
		})),
		rules.Task("middle", str, "M", pass(&middle), rules.Select{Product: "F"}),
		rules.Task("root", str, "R", pass(&root), rules.Select{Product: "M"}),
	})

	st := single(t, s, "R", "x")
	if st.Kind != model.StateThrow {
		t.Fatalf("R(x) = %v, want Throw", st)
	}
	var de *model.DependencyError
	if !errors.As(st.Err, &de) || de.Key.Product != "F" {
		t.Errorf("error %v should name the failing F node", st.Err)
	}
	var te *model.TaskError
	if !errors.As(st.Err, &te) || te.Rule != "fail" {
		t.Errorf("error %v should carry the task error of rule fail", st.Err)
	}
	if middle.Load() != 0 || root.Load() != 0 {
		t.Errorf("dependent bodies ran: middle=%d root=%d", middle.Load(), root.Load())
	}
}

func TestNoRuleAndIdentity(t *testing.T) {
	s := newTestScheduler(t, nil, nil)

	st := single(t, s, "Nope", "x")
	if st.Kind != model.StateThrow || !errors.Is(st.Err, model.ErrNoRule) {
		t.Errorf("Nope(x) = %v, want Throw(no rule)", st)
	}
	if st := single(t, s, str, "x"); st.Kind != model.StateReturn || st.Value != "x" {
		t.Errorf("string(x) = %v, want Return(x)", st)
	}
}

type dir struct{ Name string }

type target struct {
	Name string
	Vars string
}

func (t target) SubjectVariants() model.Variants {
	v, _ := model.ParseVariants(t.Vars)
	return v
}

func TestSelectors(t *testing.T) {
	length := rules.Func(func(_ context.Context, s any, _ []any) (any, error) { return len(s.(string)), nil })
	first := rules.Func(func(_ context.Context, _ any, deps []any) (any, error) { return deps[0], nil })
	rs := []*rules.Rule{
		rules.Task("len", str, "Len", length),
		rules.Constant("listing", model.TypeFor[dir](), "Listing", model.CollectionOf("a", "bb", "ccc")),
		rules.Task("sizes", model.TypeFor[dir](), "Sizes", rules.Func(func(_ context.Context, _ any, deps []any) (any, error) {
			total := 0
			for _, v := range deps[0].([]any) {
				total += v.(int)
			}
			return total, nil
		}), rules.SelectDependencies{Product: "Len", DepProduct: "Listing"}),
		rules.Constant("name", str, "Target", "abc"),
		rules.Task("projected", str, "Projected", first, rules.SelectProjection{
			Product:      "Len",
			InputProduct: "Target",
			Project:      func(v any) (any, error) { return v.(string) + "!", nil },
		}),
		rules.Task("literal", str, "Literal", first, rules.SelectLiteral{Subject: "four", Product: "Len"}),
		rules.Task("optional", str, "Optional", first, rules.Select{Product: "Missing", Optional: true}),
		rules.Task("skipped", str, "Skipped", rules.TaskFunc(func(context.Context, *rules.TaskInput) model.StepResult {
			return model.Skip("nothing to do")
		})),
		rules.Task("optional-noop", str, "OptionalNoop", first, rules.Select{Product: "Skipped", Optional: true}),
		rules.Task("required-noop", str, "RequiredNoop", first, rules.Select{Product: "Skipped"}),
		rules.Constant("cc", model.TypeFor[target](), "Compiler", "cc"),
		rules.Constant("clang", model.TypeFor[target](), "Compiler", "clang").ForVariant("cc", "clang"),
		rules.Task("build", model.TypeFor[target](), "Build", first, rules.SelectVariant{Product: "Compiler", VariantKey: "cc"}),
		rules.Constant("arm-only", model.TypeFor[target](), "Arch", "arm").ForVariant("arch", "arm"),
		rules.Task("opt-arch", model.TypeFor[target](), "OptArch", first, rules.Select{Product: "Arch", Optional: true}),
	}

	tests := []struct {
		name    string
		product model.Type
		subject any
		want    model.State
	}{
		{"dependencies in list order", "Sizes", dir{Name: "src"}, model.Return(6)},
		{"projection", "Projected", "x", model.Return(4)},
		{"literal", "Literal", "x", model.Return(4)},
		{"optional without rule", "Optional", "x", model.Return(nil)},
		{"optional noop", "OptionalNoop", "x", model.Return(nil)},
		{"required noop", "RequiredNoop", "x", model.Noop("Skipped(x) is noop: nothing to do")},
		{"variant selects rule", "Build", target{Name: "t", Vars: "cc=clang"}, model.Return("clang")},
		{"unmatched variant falls back", "Build", target{Name: "t", Vars: "cc=gcc"}, model.Return("cc")},
		{"missing variant is noop", "Build", target{Name: "t"}, model.Noop(`variant "cc" is not configured`)},
		{"optional with only other-variant rules", "OptArch", target{Name: "t", Vars: "cc=gcc"}, model.Return(nil)},
		{"optional with matching variant rule", "OptArch", target{Name: "t", Vars: "arch=arm"}, model.Return("arm")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, nil, rs)
			got := single(t, s, tt.product, tt.subject)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("%s(%v) mismatch (-want +got):\n%s", tt.product, tt.subject, diff)
			}
		})
	}
}

func TestDynamicDependencies(t *testing.T) {
	var calls atomic.Int32
	sum := rules.TaskFunc(func(_ context.Context, in *rules.TaskInput) model.StepResult {
		calls.Add(1)
		var missing []model.Key
		total := 0
		for _, part := range strings.Split(in.Subject.(string), ",") {
			k, err := in.KeyFor("Len", part)
			if err != nil {
				return model.Error(err)
			}
			st, ok := in.Lookup(k)
			if !ok {
				missing = append(missing, k)
				continue
			}
			total += st.Value.(int)
		}
		if len(missing) > 0 {
			return model.NeedsDependencies(missing...)
		}
		return model.Value(total)
	})
	s := newTestScheduler(t, nil, []*rules.Rule{
		rules.Task("len", str, "Len", rules.Func(func(_ context.Context, s any, _ []any) (any, error) {
			return len(s.(string)), nil
		})),
		rules.Task("sum", str, "Sum", sum),
	})

	if st := single(t, s, "Sum", "a,bb,ccc"); st.Kind != model.StateReturn || st.Value != 6 {
		t.Errorf("Sum = %v, want Return(6)", st)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("sum ran %d times, want 2", n)
	}
}

func TestTaskFailures(t *testing.T) {
	s := newTestScheduler(t, nil, []*rules.Rule{
		rules.Task("panics", str, "Panic", rules.Func(func(context.Context, any, []any) (any, error) {
			panic("oh no")
		})),
		rules.Task("empty", str, "Empty", rules.TaskFunc(func(context.Context, *rules.TaskInput) model.StepResult {
			return model.NeedsDependencies()
		})),
	})

	tests := []struct {
		product model.Type
		wantMsg string
	}{
		{"Panic", "panic: oh no"},
		{"Empty", "empty set of dependencies"},
	}
	for _, tt := range tests {
		st := single(t, s, tt.product, "x")
		var te *model.TaskError
		if st.Kind != model.StateThrow || !errors.As(st.Err, &te) {
			t.Errorf("%s(x) = %v, want Throw(TaskError)", tt.product, st)
			continue
		}
		if !strings.Contains(te.Error(), tt.wantMsg) {
			t.Errorf("%s(x) error = %q, want it to mention %q", tt.product, te, tt.wantMsg)
		}
	}
}

func TestExecutionRequest_Order(t *testing.T) {
	s := newTestScheduler(t, nil, nil)
	req := request(t, s, []model.Type{"P1", "P2"}, "a", "b", "a")

	want := []model.Key{
		{Subject: "a", Product: "P1"},
		{Subject: "b", Product: "P1"},
		{Subject: "a", Product: "P2"},
		{Subject: "b", Product: "P2"},
	}
	if diff := cmp.Diff(want, req.Roots); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	if req.ID == "" {
		t.Error("request has no ID")
	}
	if _, err := s.ExecutionRequest([]model.Type{"P"}, []any{[]string{"x"}}); err == nil {
		t.Error("non-comparable subject should be rejected")
	}
}

func TestExecutionRequestForGoals(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls), WithGoals(map[string][]model.Type{
		"case": {"Upper", "Lower"},
	}))

	req, err := s.ExecutionRequestForGoals([]string{"case"}, []any{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Roots) != 2 {
		t.Errorf("roots = %v", req.Roots)
	}
	if _, err := s.ExecutionRequestForGoals([]string{"nope"}, []any{"x"}); err == nil {
		t.Error("unknown goal should fail")
	}
}

func TestInvalidateSubjects(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls))
	req := request(t, s, []model.Type{"Upper"}, "a")
	execute(t, s, req)
	single(t, s, "Upper", "b")

	if n := s.InvalidateSubjects("a"); n != 2 {
		t.Errorf("InvalidateSubjects removed %d nodes, want 2", n)
	}
	execute(t, s, req)
	if n := calls.Load(); n != 3 {
		t.Errorf("content ran %d times, want 3", n)
	}
	entries := s.RootEntries(req)
	if st := entries[req.Roots[0]]; st.Value != "HELLO A" {
		t.Errorf("RootEntries = %v", entries)
	}
}

func TestDone_FixedPoint(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls))
	req := request(t, s, []model.Type{"Upper"}, "a")
	execute(t, s, req)

	s.Invalidate(func(model.Key) bool { return true })
	_, err := s.Done(req)
	var fp *model.FixedPointError
	if !errors.As(err, &fp) || len(fp.Pending) != 1 {
		t.Fatalf("Done = %v, want FixedPointError", err)
	}

	// Scheduling re-creates the invalidated roots.
	if st := execute(t, s, req)[0].State; st.Value != "HELLO A" {
		t.Errorf("rerun = %v", st)
	}
}

func TestRelease(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls))
	req := request(t, s, []model.Type{"Upper"}, "a")
	keys := s.Schedule(req)
	if len(keys) != 1 {
		t.Fatalf("Schedule = %v", keys)
	}
	if again := s.Schedule(req); len(again) != 0 {
		t.Errorf("claimed node scheduled twice: %v", again)
	}
	if err := s.Release(keys[0]); err != nil {
		t.Fatal(err)
	}
	if again := s.Schedule(req); len(again) != 1 {
		t.Errorf("released node not rescheduled: %v", again)
	}
}

func TestPersistentCache(t *testing.T) {
	var contentCalls, upperCalls atomic.Int32
	rs := []*rules.Rule{
		func() *rules.Rule {
			r := rules.Task("content", str, "Content", counted(&contentCalls, func(s any, _ []any) (any, error) {
				return "hello " + s.(string), nil
			}))
			r.Uncacheable = true
			return r
		}(),
		rules.Task("upper", str, "Upper", counted(&upperCalls, func(_ any, deps []any) (any, error) {
			return strings.ToUpper(deps[0].(string)), nil
		}), rules.Select{Product: "Content"}),
	}
	codec := store.NewCodec()
	store.Register[string](codec)
	st := store.NewMemoryStore()

	for i := 0; i < 2; i++ {
		s := newTestScheduler(t, st, rs, WithCodec(codec))
		if got := single(t, s, "Upper", "a"); got.Value != "HELLO A" {
			t.Fatalf("run %d: Upper(a) = %v", i, got)
		}
	}
	if contentCalls.Load() != 2 || upperCalls.Load() != 1 {
		t.Errorf("calls content=%d upper=%d, want 2 and 1", contentCalls.Load(), upperCalls.Load())
	}
	stats, _ := st.Stats(context.Background())
	if stats.Entries != 1 {
		t.Errorf("store holds %d entries, want 1", stats.Entries)
	}
}

func TestVisualizeGraphToFile(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(t, nil, upperLowerRules(&calls))
	req := request(t, s, []model.Type{"Upper"}, "a")
	execute(t, s, req)

	path := filepath.Join(t.TempDir(), "viz", "run.dot")
	if err := s.VisualizeGraphToFile(req.Roots, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"digraph", "Upper", "Content"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("DOT output missing %q:\n%s", want, data)
		}
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func ExampleScheduler_Results() {
	reg := rules.NewRegistry(logging.Discard())
	reg.Register(rules.Constant("greeting", str, "Greeting", "hi"))
	s := New(reg, nil)
	req, _ := s.ExecutionRequest([]model.Type{"Greeting"}, []any{"me"})
	for {
		if done, _ := s.Done(req); done {
			break
		}
		for _, k := range s.Schedule(req) {
			s.Complete(k, s.Step(context.Background(), k))
		}
	}
	for _, r := range s.Results(req) {
		fmt.Println(r.Key, r.State)
	}
	// Output: Greeting(me) Return(hi)
}
