// Package scheduler drives the product graph. It turns execution requests
// into root nodes, hands runnable nodes to an engine, runs a node's next step
// and feeds the step result back into the graph.
//
// Every graph mutation happens under one mutex. Step runs outside it, so an
// engine may execute many steps in parallel while bookkeeping stays serial.
package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/me/prodgraph/internal/graph"
	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/metrics"
	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/internal/store"
	"github.com/me/prodgraph/pkg/model"
)

// ExecutionRequest is an immutable set of root nodes to compute.
type ExecutionRequest struct {
	ID    string
	Roots []model.Key
}

// RootResult is the outcome of one root of a request.
type RootResult struct {
	Key   model.Key
	State model.State
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.Component(l, "scheduler") }
}

// WithCodec sets the codec used to persist results. Without one nothing is
// persisted.
func WithCodec(c *store.Codec) Option {
	return func(s *Scheduler) { s.codec = c }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithGoals names groups of products that ExecutionRequestForGoals expands.
func WithGoals(goals map[string][]model.Type) Option {
	return func(s *Scheduler) {
		for name, products := range goals {
			s.goals[name] = append([]model.Type(nil), products...)
		}
	}
}

// Scheduler owns the node graph of one process. The graph and its memoized
// outcomes persist across execution requests until invalidated.
type Scheduler struct {
	mu       sync.Mutex
	graph    *graph.Graph
	selected map[model.Key]*rules.Rule

	rules    *rules.Registry
	store    store.Store
	codec    *store.Codec
	recorder metrics.Recorder
	goals    map[string][]model.Type
	logger   *slog.Logger
}

// New creates a Scheduler over reg. st may be nil, in which case results are
// only memoized in the graph.
func New(reg *rules.Registry, st store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:    graph.New(),
		selected: make(map[model.Key]*rules.Rule),
		rules:    reg,
		store:    st,
		recorder: metrics.NoopRecorder{},
		goals:    make(map[string][]model.Type),
		logger:   logging.Component(nil, "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecutionRequest builds a request with one root per (product, subject)
// pair, product-major, and ensures a node for each root.
func (s *Scheduler) ExecutionRequest(products []model.Type, subjects []any) (*ExecutionRequest, error) {
	req := &ExecutionRequest{ID: uuid.New().String()}
	seen := make(map[model.Key]struct{})
	for _, p := range products {
		for _, subj := range subjects {
			k, err := model.KeyFor(subj, p, model.Variants{})
			if err != nil {
				return nil, fmt.Errorf("execution request: %w", err)
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			req.Roots = append(req.Roots, k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range req.Roots {
		s.ensure(k)
	}
	s.logger.Debug("execution request", "request_id", req.ID, "roots", len(req.Roots))
	return req, nil
}

// ExecutionRequestForGoals expands goal names into their products and builds
// the request for subjects.
func (s *Scheduler) ExecutionRequestForGoals(goals []string, subjects []any) (*ExecutionRequest, error) {
	var products []model.Type
	for _, g := range goals {
		ps, ok := s.goals[g]
		if !ok {
			return nil, fmt.Errorf("unknown goal %q", g)
		}
		products = append(products, ps...)
	}
	return s.ExecutionRequest(products, subjects)
}

// Schedule claims every runnable node and returns the keys in creation order.
// Each returned key must be passed to Complete or Release.
func (s *Scheduler) Schedule(req *ExecutionRequest) []model.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Roots may have been invalidated since the request was built.
	for _, k := range req.Roots {
		s.ensure(k)
	}
	var keys []model.Key
	for _, n := range s.graph.Runnable() {
		if err := s.graph.Claim(n.Key); err != nil {
			s.logger.Error("claim node", "node", n.Key.String(), "error", err)
			continue
		}
		keys = append(keys, n.Key)
	}
	return keys
}

// Complete feeds the result of a step back into the graph.
func (s *Scheduler) Complete(key model.Key, res model.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.recorder.SetGraphNodes(s.graph.Len()) }()

	if res.Kind != model.StepNeedsDependencies {
		st, ok := res.State()
		if !ok {
			return fmt.Errorf("complete %s: unknown step result %v", key, res)
		}
		s.logger.Debug("node completed", "node", key.String(), "state", st.Kind)
		_, err := s.graph.CompleteNode(key, st)
		return err
	}

	if len(res.Keys) == 0 {
		return s.failStep(key, errors.New("requested an empty set of dependencies"))
	}
	for _, k := range res.Keys {
		if _, err := model.NewKey(k.Subject, k.Product, k.Variants); err != nil {
			return s.failStep(key, fmt.Errorf("invalid dependency: %w", err))
		}
	}
	for _, k := range res.Keys {
		s.ensure(k)
	}
	s.logger.Debug("node waiting", "node", key.String(), "dependencies", len(res.Keys))
	_, err := s.graph.AddDependencies(key, res.Keys)
	return err
}

// Release returns a claimed node that was never stepped to Runnable.
func (s *Scheduler) Release(key model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Release(key)
}

// Done reports whether every root of req is terminal. It returns a
// *model.FixedPointError when no node is runnable or running but some roots
// are still unresolved.
func (s *Scheduler) Done(req *ExecutionRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []model.Key
	for _, k := range req.Roots {
		if st, ok := s.graph.State(k); !ok || !st.IsTerminal() {
			pending = append(pending, k)
		}
	}
	if len(pending) == 0 {
		return true, nil
	}
	for _, n := range s.graph.Nodes() {
		if n.State.Kind == model.StateRunnable || n.State.Kind == model.StateRunning {
			return false, nil
		}
	}
	return false, &model.FixedPointError{Pending: pending}
}

// RootEntries returns the current state of every root of req.
func (s *Scheduler) RootEntries(req *ExecutionRequest) map[model.Key]model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Key]model.State, len(req.Roots))
	for _, k := range req.Roots {
		st, _ := s.graph.State(k)
		out[k] = st
	}
	return out
}

// Results returns the root states of req in root order.
func (s *Scheduler) Results(req *ExecutionRequest) []RootResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RootResult, len(req.Roots))
	for i, k := range req.Roots {
		st, _ := s.graph.State(k)
		out[i] = RootResult{Key: k, State: st}
	}
	return out
}

// Invalidate drops every node matching pred, and everything depending on it,
// so the next request recomputes them. It must not run concurrently with an
// execution.
func (s *Scheduler) Invalidate(pred func(model.Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.graph.Invalidate(pred)
	for k := range s.selected {
		if _, ok := s.graph.Node(k); !ok {
			delete(s.selected, k)
		}
	}
	if n > 0 {
		s.logger.Info("invalidated nodes", "count", n)
	}
	s.recorder.SetGraphNodes(s.graph.Len())
	return n
}

// InvalidateSubjects invalidates every node whose subject is one of subjects.
func (s *Scheduler) InvalidateSubjects(subjects ...any) int {
	return s.Invalidate(func(k model.Key) bool {
		for _, subj := range subjects {
			if k.Subject == subj {
				return true
			}
		}
		return false
	})
}

// Len returns the number of nodes in the graph.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Len()
}

// VisualizeGraph writes the subgraph reachable from roots in DOT format.
func (s *Scheduler) VisualizeGraph(w io.Writer, roots []model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.WriteDOT(w, roots)
}

// VisualizeGraphToFile writes the DOT rendering of roots to path, creating
// parent directories as needed.
func (s *Scheduler) VisualizeGraphToFile(roots []model.Key, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create visualize dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.VisualizeGraph(f, roots); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ensure creates the node for key if needed and selects its rule. A node no
// rule can compute fails at once with the selection error. Callers hold s.mu.
func (s *Scheduler) ensure(key model.Key) {
	n, created := s.graph.EnsureNode(key)
	if !created {
		return
	}
	if key.SubjectType() == key.Product {
		n.Rule = "identity"
		return
	}
	rule, err := s.rules.Select(key.SubjectType(), key.Product, key.Variants)
	if err != nil {
		s.logger.Debug("rule selection failed", "node", key.String(), "error", err)
		if ferr := s.graph.Fail(key, err); ferr != nil {
			s.logger.Error("fail node", "node", key.String(), "error", ferr)
		}
		return
	}
	n.Rule = rule.Name
	s.selected[key] = rule
}

// failStep fails a running node with a task error. Callers hold s.mu.
func (s *Scheduler) failStep(key model.Key, err error) error {
	name := ""
	if r, ok := s.selected[key]; ok {
		name = r.Name
	}
	_, cerr := s.graph.CompleteNode(key, model.Throw(&model.TaskError{Rule: name, Key: key, Err: err}))
	return cerr
}

func (s *Scheduler) rule(key model.Key) (*rules.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.selected[key]
	return r, ok
}

// dependencyState returns the state of dep if key declared it.
func (s *Scheduler) dependencyState(key, dep model.Key) (model.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.graph.HasDependency(key, dep) {
		return model.State{}, false
	}
	return s.graph.State(dep)
}

// dependencyStates snapshots the declared dependencies of key with their
// states.
func (s *Scheduler) dependencyStates(key model.Key) []RootResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	deps := s.graph.Dependencies(key)
	out := make([]RootResult, len(deps))
	for i, d := range deps {
		st, _ := s.graph.State(d)
		out[i] = RootResult{Key: d, State: st}
	}
	return out
}
