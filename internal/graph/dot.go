package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// DOT renders the graph in Graphviz format: one vertex per kept repository,
// one edge per dependency, provider to consumer.
func (g *Graph) DOT(name string) string {
	if name == "" {
		name = "release"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %s {\n", strconv.Quote(name))
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box];\n")
	for _, s := range g.Snapshots() {
		fmt.Fprintf(&sb, "  %s;\n", strconv.Quote(g.Label(s)))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "  %s -> %s;\n", strconv.Quote(g.Label(e.Provider)), strconv.Quote(g.Label(e.Consumer)))
	}
	sb.WriteString("}\n")
	return sb.String()
}
