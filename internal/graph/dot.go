package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/me/prodgraph/pkg/model"
)

var stateColors = map[model.StateKind]string{
	model.StateReturn:   "palegreen",
	model.StateThrow:    "tomato",
	model.StateNoop:     "lightgray",
	model.StateWaiting:  "lightyellow",
	model.StateRunnable: "white",
	model.StateRunning:  "lightblue",
}

// WriteDOT writes the subgraph reachable from roots as a graphviz digraph.
// Nodes are labelled product(subject) with their state; edges point from a
// node to its dependencies.
func (g *Graph) WriteDOT(w io.Writer, roots []model.Key) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph plans {")
	fmt.Fprintln(bw, "  concentrate=true;")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box, style=filled];")

	visited := make(map[model.Key]bool)
	var nodes []*Node
	var visit func(k model.Key)
	visit = func(k model.Key) {
		if visited[k] {
			return
		}
		visited[k] = true
		n, ok := g.nodes[k]
		if !ok {
			return
		}
		nodes = append(nodes, n)
		for _, d := range n.deps {
			visit(d)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	for _, n := range nodes {
		label := fmt.Sprintf("%s\n%v", n.Key.Product, n.Key.Subject)
		if !n.Key.Variants.IsEmpty() {
			label += "\n[" + n.Key.Variants.String() + "]"
		}
		label += "\n" + n.State.String()
		fmt.Fprintf(bw, "  n%d [label=%s, fillcolor=%s];\n", n.Seq, strconv.Quote(label), stateColors[n.State.Kind])
	}
	for _, n := range nodes {
		for _, d := range n.deps {
			if dn, ok := g.nodes[d]; ok {
				fmt.Fprintf(bw, "  n%d -> n%d;\n", n.Seq, dn.Seq)
			}
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
