// Package pool holds the coordinates published so far in a run. A Pool is
// never mutated: each level barrier produces the next generation, so every
// pipeline of a level reads the same snapshot.
package pool

import (
	"sort"

	"github.com/msageha/cascade/internal/model"
)

// Pool maps artifact identity to the latest released coordinate.
type Pool struct {
	byKey      map[string]model.Coordinate
	generation int
}

// Empty is the generation-zero pool.
func Empty() *Pool {
	return &Pool{byKey: map[string]model.Coordinate{}}
}

// With returns a new pool holding p's coordinates overlaid with coords. The
// receiver is left untouched. Later coordinates win for the same artifact.
func (p *Pool) With(coords ...model.Coordinate) *Pool {
	next := &Pool{
		byKey:      make(map[string]model.Coordinate, len(p.byKey)+len(coords)),
		generation: p.generation + 1,
	}
	for k, c := range p.byKey {
		next.byKey[k] = c
	}
	for _, c := range coords {
		if c == nil {
			continue
		}
		next.byKey[c.Key()] = c
	}
	return next
}

// Lookup returns the released coordinate for the artifact c names, if any.
func (p *Pool) Lookup(c model.Coordinate) (model.Coordinate, bool) {
	got, ok := p.byKey[c.Key()]
	return got, ok
}

func (p *Pool) Len() int {
	return len(p.byKey)
}

// Generation counts the merges that produced p.
func (p *Pool) Generation() int {
	return p.generation
}

// Coordinates returns every coordinate sorted by identity.
func (p *Pool) Coordinates() []model.Coordinate {
	keys := make([]string, 0, len(p.byKey))
	for k := range p.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.Coordinate, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.byKey[k])
	}
	return out
}

// Updates returns, for each consumed coordinate with a pool entry that
// differs from it, the pool's coordinate. Order follows consumed.
func (p *Pool) Updates(consumed []model.Coordinate) []model.Coordinate {
	var out []model.Coordinate
	for _, c := range consumed {
		target, ok := p.Lookup(c)
		if !ok || model.Equal(c, target) {
			continue
		}
		out = append(out, target)
	}
	return out
}
