// Package graph holds the node graph of a scheduler: one node per
// (subject, product, variants) key, the dependency edges discovered while
// nodes run, and the state machine that moves nodes between Waiting,
// Runnable, Running and the terminal states.
//
// A Graph is not safe for concurrent use. The scheduler that owns it
// serializes every call under its own lock; only task bodies run in
// parallel, and they never touch the graph directly.
package graph

import (
	"fmt"
	"sort"

	"github.com/me/prodgraph/pkg/model"
)

// Node is a single memoized computation.
type Node struct {
	Key   model.Key
	State model.State
	// Seq is the creation sequence number, used wherever a deterministic
	// order over nodes is required.
	Seq int
	// Rule names the rule that computes the node, for diagnostics.
	Rule string

	deps       []model.Key
	depSet     map[model.Key]struct{}
	dependents []model.Key
}

// Dependencies returns the node's declared dependencies in declaration order.
func (n *Node) Dependencies() []model.Key {
	return append([]model.Key(nil), n.deps...)
}

// Graph is the directed graph of nodes and their dependency edges.
type Graph struct {
	nodes map[model.Key]*Node
	order []*Node
	seq   int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[model.Key]*Node)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EnsureNode returns the node for key, creating it Runnable with no
// dependencies if absent. The bool reports whether the node was created.
func (g *Graph) EnsureNode(key model.Key) (*Node, bool) {
	if n, ok := g.nodes[key]; ok {
		return n, false
	}
	g.seq++
	n := &Node{
		Key:    key,
		State:  model.State{Kind: model.StateRunnable},
		Seq:    g.seq,
		depSet: make(map[model.Key]struct{}),
	}
	g.nodes[key] = n
	g.order = append(g.order, n)
	return n, true
}

// Node returns the node for key.
func (g *Graph) Node(key model.Key) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// State returns the state of the node for key.
func (g *Graph) State(key model.Key) (model.State, bool) {
	n, ok := g.nodes[key]
	if !ok {
		return model.State{}, false
	}
	return n.State, true
}

// Nodes returns all nodes in creation order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.order...)
}

// Runnable returns the Runnable nodes in creation order.
func (g *Graph) Runnable() []*Node {
	var out []*Node
	for _, n := range g.order {
		if n.State.Kind == model.StateRunnable {
			out = append(out, n)
		}
	}
	return out
}

// Terminal reports whether every key names an existing terminal node.
func (g *Graph) Terminal(keys ...model.Key) bool {
	for _, k := range keys {
		n, ok := g.nodes[k]
		if !ok || !n.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Dependencies returns the declared dependencies of key.
func (g *Graph) Dependencies(key model.Key) []model.Key {
	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return n.Dependencies()
}

// HasDependency reports whether key declared a dependency on dep.
func (g *Graph) HasDependency(key, dep model.Key) bool {
	n, ok := g.nodes[key]
	if !ok {
		return false
	}
	_, ok = n.depSet[dep]
	return ok
}

// Dependents returns the nodes that declared a dependency on key.
func (g *Graph) Dependents(key model.Key) []model.Key {
	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return append([]model.Key(nil), n.dependents...)
}

// Claim moves a Runnable node to Running. The engine claims a node once per
// transition into Runnable, so a node never runs concurrently with itself.
func (g *Graph) Claim(key model.Key) error {
	n, err := g.lookup(key)
	if err != nil {
		return err
	}
	return transition(n, model.State{Kind: model.StateRunning})
}

// Release returns a claimed node that was never executed to Runnable.
func (g *Graph) Release(key model.Key) error {
	n, err := g.lookup(key)
	if err != nil {
		return err
	}
	if n.State.Kind != model.StateRunning {
		return &model.InvalidTransitionError{Key: key, From: n.State.Kind, To: model.StateRunnable}
	}
	return transition(n, model.State{Kind: model.StateRunnable})
}

// AddDependencies records the dependencies a Running node declared during its
// step. Every dependency must already exist.
//
// An edge that would close a cycle is refused and the node fails with a
// *model.CycleError. A dependency that already failed fails the node at once.
// Otherwise the node waits, or becomes Runnable again if every dependency is
// already terminal. The returned keys are nodes that became Runnable, which
// is always the node itself or nothing.
func (g *Graph) AddDependencies(key model.Key, deps []model.Key) ([]model.Key, error) {
	n, err := g.lookup(key)
	if err != nil {
		return nil, err
	}
	if n.State.Kind != model.StateRunning {
		return nil, fmt.Errorf("add dependencies to %s: node is %s, not %s", key, n.State.Kind, model.StateRunning)
	}

	var fresh []model.Key
	seen := make(map[model.Key]struct{}, len(deps))
	for _, d := range deps {
		if _, ok := g.nodes[d]; !ok {
			return nil, fmt.Errorf("add dependencies to %s: unknown dependency %s", key, d)
		}
		if _, dup := n.depSet[d]; dup {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		if path := g.pathTo(d, key); path != nil {
			cycle := append([]model.Key{key}, path...)
			return g.settle(n, model.Throw(&model.CycleError{Path: cycle}))
		}
		fresh = append(fresh, d)
	}

	for _, d := range fresh {
		n.deps = append(n.deps, d)
		n.depSet[d] = struct{}{}
		dn := g.nodes[d]
		dn.dependents = append(dn.dependents, key)
	}

	for _, d := range n.deps {
		if st := g.nodes[d].State; st.Kind == model.StateThrow {
			return g.settle(n, model.Throw(model.NewDependencyError(d, st.Err)))
		}
	}
	if g.allDepsTerminal(n) {
		if err := transition(n, model.State{Kind: model.StateRunnable}); err != nil {
			return nil, err
		}
		return []model.Key{key}, nil
	}
	return nil, transition(n, model.State{Kind: model.StateWaiting})
}

// CompleteNode moves a Running node to a terminal state and re-evaluates its
// dependents. It returns the dependents that became Runnable, in creation
// order.
func (g *Graph) CompleteNode(key model.Key, state model.State) ([]model.Key, error) {
	n, err := g.lookup(key)
	if err != nil {
		return nil, err
	}
	if !state.IsTerminal() {
		return nil, fmt.Errorf("complete %s: %s is not a terminal state", key, state.Kind)
	}
	if n.State.Kind != model.StateRunning {
		return nil, &model.InvalidTransitionError{Key: key, From: n.State.Kind, To: state.Kind}
	}
	return g.settle(n, state)
}

// Fail moves a Runnable or Running node straight to Throw. The scheduler uses
// it when rule selection fails for a freshly created node.
func (g *Graph) Fail(key model.Key, err error) error {
	n, lerr := g.lookup(key)
	if lerr != nil {
		return lerr
	}
	_, serr := g.settle(n, model.Throw(err))
	return serr
}

// Invalidate removes every node matching pred together with all of its
// transitive dependents, so the next run recomputes them from scratch. It must
// only be called between runs. Returns the number of removed nodes.
func (g *Graph) Invalidate(pred func(model.Key) bool) int {
	doomed := make(map[model.Key]struct{})
	var queue []model.Key
	for _, n := range g.order {
		if pred(n.Key) {
			doomed[n.Key] = struct{}{}
			queue = append(queue, n.Key)
		}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, d := range g.nodes[k].dependents {
			if _, ok := doomed[d]; !ok {
				doomed[d] = struct{}{}
				queue = append(queue, d)
			}
		}
	}
	if len(doomed) == 0 {
		return 0
	}

	for k := range doomed {
		for _, d := range g.nodes[k].deps {
			if _, gone := doomed[d]; gone {
				continue
			}
			dn := g.nodes[d]
			kept := dn.dependents[:0]
			for _, x := range dn.dependents {
				if x != k {
					kept = append(kept, x)
				}
			}
			dn.dependents = kept
		}
	}
	order := g.order[:0]
	for _, n := range g.order {
		if _, gone := doomed[n.Key]; gone {
			delete(g.nodes, n.Key)
			continue
		}
		order = append(order, n)
	}
	g.order = order
	return len(doomed)
}

// settle applies a terminal state and propagates it to waiting dependents.
func (g *Graph) settle(n *Node, state model.State) ([]model.Key, error) {
	if err := transition(n, state); err != nil {
		return nil, err
	}

	var ready []*Node
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dk := range cur.dependents {
			dn := g.nodes[dk]
			if dn.State.Kind != model.StateWaiting {
				continue
			}
			if cur.State.Kind == model.StateThrow {
				dn.State = model.Throw(model.NewDependencyError(cur.Key, cur.State.Err))
				queue = append(queue, dn)
				continue
			}
			if g.allDepsTerminal(dn) {
				dn.State = model.State{Kind: model.StateRunnable}
				ready = append(ready, dn)
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].Seq < ready[j].Seq })
	keys := make([]model.Key, len(ready))
	for i, r := range ready {
		keys[i] = r.Key
	}
	return keys, nil
}

func (g *Graph) allDepsTerminal(n *Node) bool {
	for _, d := range n.deps {
		if !g.nodes[d].State.IsTerminal() {
			return false
		}
	}
	return true
}

// pathTo returns a dependency path from -> ... -> to, or nil if to is not
// reachable from from.
func (g *Graph) pathTo(from, to model.Key) []model.Key {
	if from == to {
		return []model.Key{to}
	}
	parent := map[model.Key]model.Key{}
	visited := map[model.Key]bool{from: true}
	stack := []model.Key{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.nodes[cur].deps {
			if visited[d] {
				continue
			}
			visited[d] = true
			parent[d] = cur
			if d == to {
				path := []model.Key{to}
				for p := cur; ; p = parent[p] {
					path = append(path, p)
					if p == from {
						break
					}
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			stack = append(stack, d)
		}
	}
	return nil
}

func (g *Graph) lookup(key model.Key) (*Node, error) {
	n, ok := g.nodes[key]
	if !ok {
		return nil, fmt.Errorf("unknown node %s", key)
	}
	return n, nil
}

func transition(n *Node, to model.State) error {
	if !n.State.Kind.CanTransitionTo(to.Kind) {
		return &model.InvalidTransitionError{Key: n.Key, From: n.State.Kind, To: to.Kind}
	}
	n.State = to
	return nil
}
