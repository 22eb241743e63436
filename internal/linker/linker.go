// Package linker computes which repositories use which others, directly and
// transitively, from a set of repository snapshots.
package linker

import "github.com/msageha/cascade/internal/model"

// Linker answers usage queries over a fixed snapshot set. Results keep the
// snapshot set's order.
type Linker struct {
	snaps []*model.Snapshot
	// usedBy[i] lists indices of repositories whose published artifacts
	// snaps[i] consumes; usersOf is the inverse.
	usedBy  [][]int
	usersOf [][]int
	index   map[string]int
}

// New links every pair of snapshots once.
func New(snaps []*model.Snapshot) *Linker {
	l := &Linker{
		snaps:   snaps,
		usedBy:  make([][]int, len(snaps)),
		usersOf: make([][]int, len(snaps)),
		index:   make(map[string]int, len(snaps)),
	}
	for i, s := range snaps {
		l.index[s.Dir] = i
	}
	for i, consumer := range snaps {
		for j, provider := range snaps {
			if i == j || !consumer.Consumes(provider) {
				continue
			}
			l.usedBy[i] = append(l.usedBy[i], j)
			l.usersOf[j] = append(l.usersOf[j], i)
		}
	}
	return l
}

// UsedBy returns the repositories whose artifacts repo consumes.
func (l *Linker) UsedBy(repo *model.Snapshot) []*model.Snapshot {
	i, ok := l.lookup(repo)
	if !ok {
		return nil
	}
	return l.collect(l.usedBy[i])
}

// UsersOf returns the repositories that consume repo's artifacts.
func (l *Linker) UsersOf(repo *model.Snapshot) []*model.Snapshot {
	i, ok := l.lookup(repo)
	if !ok {
		return nil
	}
	return l.collect(l.usersOf[i])
}

// UsedByClosure returns every repository repo depends on, directly or
// transitively. The worklist keeps a visited set, so cycles terminate; repo
// itself appears in the result only when it sits on a cycle.
func (l *Linker) UsedByClosure(repo *model.Snapshot) []*model.Snapshot {
	start, ok := l.lookup(repo)
	if !ok {
		return nil
	}
	visited := make([]bool, len(l.snaps))
	work := append([]int(nil), l.usedBy[start]...)
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		work = append(work, l.usedBy[n]...)
	}
	var out []*model.Snapshot
	for i, v := range visited {
		if v {
			out = append(out, l.snaps[i])
		}
	}
	return out
}

// DependsOnAny reports whether repo's closure intersects dirs.
func (l *Linker) DependsOnAny(repo *model.Snapshot, dirs map[string]bool) bool {
	for _, s := range l.UsedByClosure(repo) {
		if dirs[s.Dir] {
			return true
		}
	}
	return false
}

func (l *Linker) lookup(repo *model.Snapshot) (int, bool) {
	if repo == nil {
		return 0, false
	}
	i, ok := l.index[repo.Dir]
	return i, ok
}

func (l *Linker) collect(idx []int) []*model.Snapshot {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*model.Snapshot, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.snaps[i])
	}
	return out
}
