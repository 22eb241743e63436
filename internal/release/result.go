package release

import (
	"github.com/msageha/cascade/internal/graph"
	"github.com/msageha/cascade/internal/model"
	"github.com/msageha/cascade/internal/pool"
)

// Result is everything a run produced, for the report writers.
type Result struct {
	Graph *graph.Graph
	DOT   string
	// Releases holds one record per repository that started a pipeline,
	// in level order.
	Releases         []*model.RepositoryRelease
	DryRun           bool
	RunID            string
	CheckoutFailures []CheckoutFailure
	// Pool is the version pool after the last completed level.
	Pool *pool.Pool
}

// Failed reports whether any repository failed, including at checkout.
func (r *Result) Failed() bool {
	if len(r.CheckoutFailures) > 0 {
		return true
	}
	for _, rel := range r.Releases {
		if rel.Failed() {
			return true
		}
	}
	return false
}

// Emitted lists the released coordinates in release order.
func (r *Result) Emitted() []model.Coordinate {
	var out []model.Coordinate
	for _, rel := range r.Releases {
		if rel.Failed() {
			continue
		}
		out = append(out, rel.Coordinates...)
	}
	return out
}

// Release returns the record for the repository checked out in dir.
func (r *Result) Release(dir string) (*model.RepositoryRelease, bool) {
	for _, rel := range r.Releases {
		if rel.Repository.Dir == dir {
			return rel, true
		}
	}
	return nil, false
}
