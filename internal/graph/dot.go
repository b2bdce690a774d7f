package graph

import (
	"fmt"
	"strings"
)

// DOT renders the graph in Graphviz format.
func (g *Graph) DOT() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.name)
	b.WriteString("  rankdir=LR;\n")
	terminal := make(map[string]bool, len(g.terminals))
	for _, id := range g.terminals {
		terminal[id] = true
	}
	for _, id := range g.topo {
		n := g.nodes[id]
		shape := "box"
		switch {
		case id == g.start:
			shape = "invhouse"
		case terminal[id]:
			shape = "doubleoctagon"
		}
		fmt.Fprintf(&b, "  %q [shape=%s, label=%q];\n", id, shape, fmt.Sprintf("%s\n%s", id, n.Output))
	}
	for _, e := range g.edges {
		switch {
		case e.Label != "":
			fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", e.From, e.To, e.Label)
		case e.Condition != nil:
			fmt.Fprintf(&b, "  %q -> %q [style=dashed];\n", e.From, e.To)
		default:
			fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
