// Package release drives repositories through their release pipelines,
// level by level. Every pipeline of a level reads the same immutable
// version pool; the coordinates a level emits are merged into the next
// pool only once the whole level has finished, and no level starts after a
// failure.
package release

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/cascade/internal/executor"
	"github.com/msageha/cascade/internal/graph"
	"github.com/msageha/cascade/internal/logging"
	"github.com/msageha/cascade/internal/manifest"
	"github.com/msageha/cascade/internal/model"
	"github.com/msageha/cascade/internal/pool"
)

type Options struct {
	Concurrency int
	DryRun      bool
	SkipTests   bool
	// Triggers are repository directory names; empty releases everything.
	Triggers []string
	RunID    string
}

// Runner executes release runs.
type Runner struct {
	c    Collaborators
	opts Options
	log  *logging.Logger
}

func NewRunner(c Collaborators, opts Options, log *logging.Logger) (*Runner, error) {
	if opts.Concurrency <= 0 {
		return nil, &model.ConfigError{Field: "run.concurrency", Message: fmt.Sprintf("must be positive, got %d", opts.Concurrency)}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Runner{c: c, opts: opts, log: log.With("release")}, nil
}

// Plan is a checked-out, scanned and levelled set of repositories.
type Plan struct {
	Snapshots        []*model.Snapshot
	Graph            *graph.Graph
	CheckoutFailures []CheckoutFailure
}

type checkout struct {
	snap *model.Snapshot
	err  error
}

// Plan checks out and scans every repository, then builds the graph.
// Repositories whose checkout or scan fails are left out of the graph and
// reported in CheckoutFailures. A graph error is returned with the partial
// plan.
func (r *Runner) Plan(ctx context.Context, descs []model.Descriptor) (*Plan, error) {
	results, err := executor.Execute(ctx, descs, r.opts.Concurrency, func(ctx context.Context, _ int, desc model.Descriptor) (checkout, error) {
		root, err := r.c.Checkout.Checkout(ctx, desc)
		if err != nil {
			return checkout{err: err}, nil
		}
		snap, err := manifest.Snapshot(r.c.Manifests, desc, root)
		if err != nil {
			return checkout{err: err}, nil
		}
		return checkout{snap: snap}, nil
	})
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for i, res := range results {
		if res.err != nil {
			serr := &StageError{Repository: descs[i].ShortName(), Stage: model.StageCheckedOut, Err: res.err}
			plan.CheckoutFailures = append(plan.CheckoutFailures, CheckoutFailure{Repository: descs[i], Err: serr})
			r.log.Errorf("%s: checkout failed, excluded from the run: %v", descs[i].ShortName(), res.err)
			continue
		}
		plan.Snapshots = append(plan.Snapshots, res.snap)
	}

	g, err := graph.Build(plan.Snapshots, r.opts.Triggers)
	if err != nil {
		return plan, err
	}
	plan.Graph = g
	r.log.Infof("graph: %d repositories in %d levels", g.Len(), len(g.Levels))
	return plan, nil
}

// Run plans and then releases level by level. The returned Result is never
// nil; it holds whatever completed before an error.
func (r *Runner) Run(ctx context.Context, descs []model.Descriptor) (*Result, error) {
	res := &Result{DryRun: r.opts.DryRun, RunID: r.opts.RunID, Pool: pool.Empty()}

	plan, err := r.Plan(ctx, descs)
	if plan != nil {
		res.CheckoutFailures = plan.CheckoutFailures
	}
	if err != nil {
		return res, err
	}
	res.Graph = plan.Graph
	res.DOT = plan.Graph.DOT("release")

	versions := pool.Empty()
	for level, members := range plan.Graph.Levels {
		r.log.Infof("level %d: %d repositories (pool generation %d, %d coordinates)", level+1, len(members), versions.Generation(), versions.Len())

		current := versions
		releases, err := executor.Execute(ctx, members, r.opts.Concurrency, func(ctx context.Context, _ int, snap *model.Snapshot) (*model.RepositoryRelease, error) {
			return newPipeline(r.c, r.opts, r.log, snap, plan.Graph.Label(snap)).run(ctx, current)
		})
		res.Releases = append(res.Releases, releases...)

		var emitted []model.Coordinate
		for _, rel := range releases {
			if rel != nil && !rel.Failed() {
				emitted = append(emitted, rel.Coordinates...)
			}
		}
		versions = versions.With(emitted...)
		res.Pool = versions

		if err != nil {
			var agg *executor.AggregateError
			if errors.As(err, &agg) {
				err = levelError(level, agg)
			}
			r.log.Errorf("level %d failed, no further levels will start", level+1)
			return res, err
		}
	}
	r.log.Infof("run finished: %d repositories", len(res.Releases))
	return res, nil
}

// levelError unwraps a single failure to its StageError so callers see the
// repository and stage directly.
func levelError(level int, agg *executor.AggregateError) error {
	if len(agg.Failures) == 1 {
		return fmt.Errorf("level %d: %w", level+1, agg.Failures[0].Err)
	}
	return fmt.Errorf("level %d: %w", level+1, agg)
}
