package release

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/cascade/internal/external"
	"github.com/msageha/cascade/internal/graph"
	"github.com/msageha/cascade/internal/model"
)

func chainWorld(t *testing.T) *world {
	return newWorld(t).
		repo("a", "1.0.0", "1.1.0").
		repo("b", "1.0.0", "1.0.0", "example.com/a v1.0.0").
		repo("c", "1.3.0", "1.4.0", "example.com/a v1.0.0", "example.com/b v1.0.0")
}

func levelDirs(g *graph.Graph) [][]string {
	var out [][]string
	for _, level := range g.Levels {
		var names []string
		for _, s := range level {
			names = append(names, s.Dir)
		}
		out = append(out, names)
	}
	return out
}

func mod(path, ver string) model.Coordinate {
	return model.ModuleCoordinate{Path: path, Ver: ver}
}

func TestRun_LinearChainResolvesReleasedVersions(t *testing.T) {
	w := chainWorld(t)
	res, err := w.run(Options{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levelDirs(res.Graph))
	assert.Contains(t, res.DOT, `"1.1 a" -> "2.1 b";`)
	assert.False(t, res.Failed())

	assert.Contains(t, w.read("b", "go.mod"), "example.com/a v1.1.0")
	cmod := w.read("c", "go.mod")
	assert.Contains(t, cmod, "example.com/a v1.1.0")
	assert.Contains(t, cmod, "example.com/b v1.0.1")

	b, ok := res.Release("b")
	require.True(t, ok)
	assert.Equal(t, model.MustParseVersion("1.0.1"), b.Version.New, "rewritten dependencies force a patch release")

	for _, rel := range res.Releases {
		assert.Equal(t, model.StageDeployed, rel.Stage, rel.Repository.Dir)
		assert.True(t, rel.Pushed)
		assert.True(t, rel.Deployed)
	}
	assert.Equal(t, []model.Coordinate{
		mod("example.com/a", "v1.1.0"),
		mod("example.com/b", "v1.0.1"),
		mod("example.com/c", "v1.4.0"),
	}, res.Emitted())
	assert.Equal(t, 3, res.Pool.Len())

	assert.Equal(t, []string{"v1.1.0"}, w.vcs.tags["a"])
	assert.Len(t, w.vcs.commits["b"], 1)
	assert.Empty(t, w.vcs.commits["a"])
	assert.Contains(t, w.steps.envs["b:build"], "CASCADE_VERSION=v1.0.1")
	assert.Contains(t, w.steps.envs["b:build"], "GOPROXY=file:///staging")
}

func TestRun_PruningReleasesOnlyTriggerAndDependents(t *testing.T) {
	w := chainWorld(t)
	res, err := w.run(Options{Triggers: []string{"b"}})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"b"}, {"c"}}, levelDirs(res.Graph))
	_, ok := res.Release("a")
	assert.False(t, ok, "excluded repositories get no release record")
	assert.Len(t, res.Releases, 2)

	cmod := w.read("c", "go.mod")
	assert.Contains(t, cmod, "example.com/a v1.0.0")
	assert.Contains(t, cmod, "example.com/b v1.0.0", "b had no change and no rewrite")
}

func TestRun_DryRunStopsAfterStaging(t *testing.T) {
	w := chainWorld(t)
	res, err := w.run(Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	for _, rel := range res.Releases {
		assert.Equal(t, model.StagePublishedStaging, rel.Stage, rel.Repository.Dir)
		assert.False(t, rel.Pushed)
		assert.False(t, rel.Deployed)
	}
	assert.Empty(t, w.vcs.tags)
	assert.Empty(t, w.vcs.pushes)
	assert.NotContains(t, w.steps.called(), "a:deploy")
	assert.Contains(t, w.read("c", "go.mod"), "example.com/b v1.0.1", "staged versions feed the next level")
	assert.Equal(t, []model.Coordinate{mod("example.com/a", "v1.1.0")}, w.stager.staged["a"])
}

func TestRun_FailureStopsFurtherLevels(t *testing.T) {
	w := newWorld(t).
		repo("a", "1.0.0", "1.1.0").
		repo("b", "1.0.0", "1.1.0", "example.com/a v1.0.0").
		repo("d", "0.2.0", "0.3.0", "example.com/a v1.0.0").
		repo("c", "1.0.0", "1.1.0", "example.com/b v1.0.0")
	boom := &external.ProcessError{Command: "make", Dir: "b", ExitCode: 2, Output: "undefined: a.Thing"}
	w.steps.fail["b:build"] = boom

	res, err := w.run(Options{Concurrency: 2})
	require.Error(t, err)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "b", serr.Repository)
	assert.Equal(t, model.StageBuilt, serr.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, serr.FormatStderr(), "undefined: a.Thing")

	a, _ := res.Release("a")
	assert.Equal(t, model.StageDeployed, a.Stage, "earlier levels are not undone")
	d, _ := res.Release("d")
	assert.Equal(t, model.StageDeployed, d.Stage, "siblings in the failing level run to completion")
	b, _ := res.Release("b")
	assert.True(t, b.Failed())
	assert.Equal(t, model.StageBuilt, b.FailedStage)
	_, ok := res.Release("c")
	assert.False(t, ok, "no further level starts")
	assert.True(t, res.Failed())
	assert.NotContains(t, w.steps.called(), "c:build")
}

func TestRun_IncompleteDependencyUpdateFails(t *testing.T) {
	w := chainWorld(t)
	c := w.collaborators()
	c.Manifests = lazyRewriter{w.gomod}
	r, err := NewRunner(c, Options{Concurrency: 1}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), w.descs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompleteUpdate)

	b, ok := res.Release("b")
	require.True(t, ok)
	assert.Equal(t, model.StageDependenciesUpdated, b.FailedStage)
}

func TestRun_MajorMigration(t *testing.T) {
	w := newWorld(t).
		repo("a", "1.4.2", "2.0.0").
		repo("b", "0.1.0", "0.1.0", "example.com/a v1.4.2")
	w.write("a", "a.go", "package a\n\nimport _ \"example.com/a/internal/x\"\n")
	w.write("a", "internal/x/x.go", "package x\n")
	w.write("b", "b.go", "package b\n\nimport \"example.com/a\"\n\nvar _ = a.X\n")

	res, err := w.run(Options{})
	require.NoError(t, err)

	a, _ := res.Release("a")
	assert.True(t, a.Version.IsMajorUpdate())
	assert.Equal(t, []model.Coordinate{mod("example.com/a/v2", "v2.0.0")}, a.Coordinates)
	assert.Contains(t, w.read("a", "go.mod"), "module example.com/a/v2")
	assert.Contains(t, w.read("a", "a.go"), `"example.com/a/v2/internal/x"`)
	require.Len(t, w.vcs.commits["a"], 1)
	assert.Contains(t, w.vcs.commits["a"][0], "major version 2")

	assert.Contains(t, w.read("b", "go.mod"), "example.com/a/v2 v2.0.0")
	assert.Contains(t, w.read("b", "b.go"), `import "example.com/a/v2"`)
	b, _ := res.Release("b")
	assert.Equal(t, model.MustParseVersion("0.1.1"), b.Version.New)
}

func TestRun_SkipTests(t *testing.T) {
	w := chainWorld(t)
	w.descriptor("b").SkipTests = true
	_, err := w.run(Options{})
	require.NoError(t, err)
	calls := w.steps.called()
	assert.Contains(t, calls, "a:test")
	assert.NotContains(t, calls, "b:test")

	w2 := chainWorld(t)
	_, err = w2.run(Options{SkipTests: true})
	require.NoError(t, err)
	for _, c := range w2.steps.called() {
		assert.NotContains(t, c, ":test")
	}
}

func TestRun_UnchangedRepositoryStillEmitsCoordinates(t *testing.T) {
	w := newWorld(t).
		repo("a", "1.0.0", "1.0.0").
		repo("b", "1.0.0", "1.1.0", "example.com/a v1.0.0")
	res, err := w.run(Options{})
	require.NoError(t, err)

	a, _ := res.Release("a")
	assert.Equal(t, model.StageUnchanged, a.Stage)
	assert.Equal(t, []model.Coordinate{mod("example.com/a", "v1.0.0")}, a.Coordinates)
	assert.NotContains(t, w.steps.called(), "a:build")
	assert.Empty(t, w.vcs.commits["b"], "b already requires a's current version")
}

func TestRun_IncrementPolicyOverridesOracle(t *testing.T) {
	w := newWorld(t).repo("a", "1.0.0", "1.0.1")
	w.descriptor("a").Increment = model.IncrementMinor
	res, err := w.run(Options{})
	require.NoError(t, err)
	a, _ := res.Release("a")
	assert.Equal(t, model.MustParseVersion("1.1.0"), a.Version.New)
}

func TestRun_VersionOracleFailure(t *testing.T) {
	w := chainWorld(t)
	w.oracle.errs["a"] = external.ErrNoCurrentVersion
	res, err := w.run(Options{})
	assert.ErrorIs(t, err, external.ErrNoCurrentVersion)
	a, _ := res.Release("a")
	assert.Equal(t, model.StageVersionResolved, a.FailedStage)
	assert.Len(t, res.Releases, 1)
}

func TestRun_PushFailureKeepsStagedRelease(t *testing.T) {
	w := newWorld(t).repo("a", "1.0.0", "1.1.0")
	w.vcs.pushErr = errors.New("remote rejected")
	res, err := w.run(Options{})
	require.Error(t, err)
	a, _ := res.Release("a")
	assert.Equal(t, model.StagePushed, a.FailedStage)
	assert.False(t, a.Pushed)
	assert.Equal(t, []model.Coordinate{mod("example.com/a", "v1.1.0")}, w.stager.staged["a"])
}

func TestRun_CheckoutFailureExcludesRepository(t *testing.T) {
	w := chainWorld(t).repo("x", "1.0.0", "1.1.0")
	w.checkout.fail["x"] = errors.New("repository not found")
	res, err := w.run(Options{})
	require.NoError(t, err)

	require.Len(t, res.CheckoutFailures, 1)
	assert.Equal(t, "x", res.CheckoutFailures[0].Repository.Dir)
	var serr *StageError
	require.ErrorAs(t, res.CheckoutFailures[0].Err, &serr)
	assert.Equal(t, model.StageCheckedOut, serr.Stage)
	assert.False(t, res.Graph.Contains("x"))
	assert.True(t, res.Failed())
	assert.Len(t, res.Releases, 3)
}

func TestRun_CycleIsGraphErrorBeforeAnyPipeline(t *testing.T) {
	w := newWorld(t).
		repo("a", "1.0.0", "1.1.0", "example.com/b v1.0.0").
		repo("b", "1.0.0", "1.1.0", "example.com/a v1.0.0")
	res, err := w.run(Options{})
	assert.ErrorIs(t, err, graph.ErrCycle)
	assert.Empty(t, res.Releases)
	assert.Empty(t, w.steps.called())
}

func TestRun_SequentialMatchesParallel(t *testing.T) {
	seq := chainWorld(t)
	seqRes, err := seq.run(Options{Concurrency: 1})
	require.NoError(t, err)
	par := chainWorld(t)
	parRes, err := par.run(Options{Concurrency: 8})
	require.NoError(t, err)
	assert.Equal(t, seqRes.Emitted(), parRes.Emitted())
	assert.Equal(t, seqRes.DOT, parRes.DOT)
}

func TestNewRunner_Validation(t *testing.T) {
	w := newWorld(t)
	_, err := NewRunner(w.collaborators(), Options{Concurrency: 0}, nil)
	var cerr *model.ConfigError
	assert.ErrorAs(t, err, &cerr)

	c := w.collaborators()
	c.Stager = nil
	_, err = NewRunner(c, Options{Concurrency: 1}, nil)
	assert.ErrorContains(t, err, "stager is required")
}

func TestPlan_ReportsLevelsWithoutReleasing(t *testing.T) {
	w := chainWorld(t)
	r, err := NewRunner(w.collaborators(), Options{Concurrency: 2}, nil)
	require.NoError(t, err)
	plan, err := r.Plan(context.Background(), w.descs)
	require.NoError(t, err)
	assert.Len(t, plan.Snapshots, 3)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levelDirs(plan.Graph))
	assert.Empty(t, w.steps.called())
}
