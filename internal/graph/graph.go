// Package graph builds the directed dependency graph over the repositories of
// a run and partitions it into ordered levels.
package graph

import (
	"fmt"
	"sort"

	"github.com/msageha/cascade/internal/linker"
	"github.com/msageha/cascade/internal/model"
)

// Edge points from the repository publishing an artifact to the one
// consuming it.
type Edge struct {
	Provider *model.Snapshot
	Consumer *model.Snapshot
}

// Graph is the levelled dependency graph of the kept repositories. Every
// provider sits in a strictly lower level than each of its consumers.
type Graph struct {
	Levels [][]*model.Snapshot
	Edges  []Edge

	position map[string]position
}

type position struct {
	level int
	index int
}

// Build keeps every repository when triggers is empty; otherwise it keeps the
// triggers and every repository depending on one of them, directly or
// transitively. Ordering within a level follows snaps.
func Build(snaps []*model.Snapshot, triggers []string) (*Graph, error) {
	l := linker.New(snaps)

	kept, err := keep(l, snaps, triggers)
	if err != nil {
		return nil, err
	}
	keptSet := make(map[string]bool, len(kept))
	for _, s := range kept {
		keptSet[s.Dir] = true
	}

	g := &Graph{position: make(map[string]position, len(kept))}
	incoming := make(map[string][]*model.Snapshot, len(kept))
	for _, consumer := range kept {
		for _, provider := range l.UsedBy(consumer) {
			if !keptSet[provider.Dir] {
				continue
			}
			g.Edges = append(g.Edges, Edge{Provider: provider, Consumer: consumer})
			incoming[consumer.Dir] = append(incoming[consumer.Dir], provider)
		}
	}

	remaining := kept
	for level := 0; len(remaining) > 0; level++ {
		var ready, blocked []*model.Snapshot
		for _, s := range remaining {
			if g.providersBelow(incoming[s.Dir], level) {
				ready = append(ready, s)
			} else {
				blocked = append(blocked, s)
			}
		}
		if len(ready) == 0 {
			return nil, unassignableError(blocked, incoming)
		}
		for i, s := range ready {
			g.position[s.Dir] = position{level: level, index: i}
		}
		g.Levels = append(g.Levels, ready)
		remaining = blocked
	}
	return g, nil
}

func keep(l *linker.Linker, snaps []*model.Snapshot, triggers []string) ([]*model.Snapshot, error) {
	if len(triggers) == 0 {
		return snaps, nil
	}
	known := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		known[s.Dir] = true
	}
	triggerSet := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		if !known[t] {
			return nil, &GraphError{Kind: ErrUnknownTrigger, Repositories: []string{t}}
		}
		triggerSet[t] = true
	}
	var kept []*model.Snapshot
	for _, s := range snaps {
		if triggerSet[s.Dir] || l.DependsOnAny(s, triggerSet) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

func (g *Graph) providersBelow(providers []*model.Snapshot, level int) bool {
	for _, p := range providers {
		pos, ok := g.position[p.Dir]
		if !ok || pos.level >= level {
			return false
		}
	}
	return true
}

// unassignableError names a cycle among the blocked repositories when one
// exists.
func unassignableError(blocked []*model.Snapshot, incoming map[string][]*model.Snapshot) error {
	names := make([]string, 0, len(blocked))
	edges := make(map[string][]string, len(blocked))
	for _, s := range blocked {
		names = append(names, s.Dir)
		for _, p := range incoming[s.Dir] {
			edges[s.Dir] = append(edges[s.Dir], p.Dir)
		}
	}
	if path := findCyclePath(names, edges); len(path) > 0 {
		return &GraphError{Kind: ErrCycle, Repositories: names, Path: path}
	}
	return &GraphError{Kind: ErrUnassignable, Repositories: names}
}

// findCyclePath runs a coloured DFS over consumer -> provider edges and
// returns the first cycle found, in provider-to-consumer order.
func findCyclePath(nodeNames []string, edges map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodeNames))
	parent := make(map[string]string, len(nodeNames))
	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for _, dep := range edges[node] {
			if color[dep] == gray {
				cyclePath = []string{dep}
				for current := node; current != dep; current = parent[current] {
					cyclePath = append(cyclePath, current)
				}
				cyclePath = append(cyclePath, dep)
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, n := range nodeNames {
		if color[n] == white && dfs(n) {
			return cyclePath
		}
	}
	return nil
}

// Level returns the zero-based level of the repository checked out in dir.
func (g *Graph) Level(dir string) (int, bool) {
	pos, ok := g.position[dir]
	return pos.level, ok
}

// Contains reports whether dir was kept.
func (g *Graph) Contains(dir string) bool {
	_, ok := g.position[dir]
	return ok
}

// Len is the number of kept repositories.
func (g *Graph) Len() int {
	return len(g.position)
}

// Snapshots returns the kept repositories in level order.
func (g *Graph) Snapshots() []*model.Snapshot {
	out := make([]*model.Snapshot, 0, len(g.position))
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return out
}

// Label is "<level+1>.<indexInLevel+1> <shortName>".
func (g *Graph) Label(s *model.Snapshot) string {
	pos, ok := g.position[s.Dir]
	if !ok {
		return s.ShortName()
	}
	return fmt.Sprintf("%d.%d %s", pos.level+1, pos.index+1, s.ShortName())
}

// Providers returns the kept repositories dir consumes, sorted by position.
func (g *Graph) Providers(dir string) []*model.Snapshot {
	var out []*model.Snapshot
	for _, e := range g.Edges {
		if e.Consumer.Dir == dir {
			out = append(out, e.Provider)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := g.position[out[i].Dir], g.position[out[j].Dir]
		if pi.level != pj.level {
			return pi.level < pj.level
		}
		return pi.index < pj.index
	})
	return out
}
