package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/msageha/cascade/internal/external"
	"github.com/msageha/cascade/internal/logging"
	"github.com/msageha/cascade/internal/manifest"
	"github.com/msageha/cascade/internal/model"
	"github.com/msageha/cascade/internal/pool"
)

// pipeline drives one repository through its release stages. It only reads
// the pool it is handed and only touches its own working tree.
type pipeline struct {
	c     Collaborators
	opts  Options
	log   *logging.Logger
	snap  *model.Snapshot
	label string
	rel   *model.RepositoryRelease
}

func newPipeline(c Collaborators, opts Options, log *logging.Logger, snap *model.Snapshot, label string) *pipeline {
	return &pipeline{
		c:     c,
		opts:  opts,
		log:   log,
		snap:  snap,
		label: label,
		rel:   model.NewRepositoryRelease(snap.Descriptor),
	}
}

// run returns the release record; its Err is also returned so the level
// executor can aggregate failures.
func (p *pipeline) run(ctx context.Context, versions *pool.Pool) (*model.RepositoryRelease, error) {
	p.log.Infof("%s: start", p.label)

	rewritten, err := p.updateDependencies(ctx, versions)
	if err != nil {
		return p.fail(model.StageDependenciesUpdated, err)
	}
	if err := p.advance(model.StageDependenciesUpdated); err != nil {
		return p.fail(model.StageDependenciesUpdated, err)
	}

	rv, err := p.resolveVersion(ctx, rewritten)
	if err != nil {
		return p.fail(model.StageVersionResolved, err)
	}
	p.rel.Version = rv
	if err := p.advance(model.StageVersionResolved); err != nil {
		return p.fail(model.StageVersionResolved, err)
	}
	p.log.Infof("%s: version %s", p.label, rv)

	if !rv.HasChange() {
		p.rel.Coordinates = releasedCoordinates(p.snap.Published, rv.Current)
		if err := p.advance(model.StageUnchanged); err != nil {
			return p.fail(model.StageUnchanged, err)
		}
		return p.rel, nil
	}

	coords := p.snap.Published
	if rv.IsMajorUpdate() {
		migrated, err := p.migrateMajor(ctx, rv)
		if err != nil {
			return p.fail(model.StageMajorVersionMigrated, err)
		}
		coords = migrated
		if err := p.advance(model.StageMajorVersionMigrated); err != nil {
			return p.fail(model.StageMajorVersionMigrated, err)
		}
	}
	coords = releasedCoordinates(coords, rv.New)

	env := append(external.StepEnv(p.snap.Descriptor, rv.New), p.c.Stager.Env()...)
	if err := p.step(ctx, external.StepBuild, env, model.StageBuilt); err != nil {
		return p.fail(model.StageBuilt, err)
	}
	if p.opts.SkipTests || p.snap.SkipTests {
		p.log.Infof("%s: tests skipped", p.label)
	} else if err := p.step(ctx, external.StepTest, env, model.StageTested); err != nil {
		return p.fail(model.StageTested, err)
	}
	if err := p.step(ctx, external.StepClean, env, model.StageCleaned); err != nil {
		return p.fail(model.StageCleaned, err)
	}

	files, err := p.c.Stager.Stage(ctx, p.snap.Root, coords)
	if err != nil {
		return p.fail(model.StagePublishedStaging, err)
	}
	p.rel.Coordinates = coords
	if err := p.advance(model.StagePublishedStaging); err != nil {
		return p.fail(model.StagePublishedStaging, err)
	}
	p.log.Debugf("%s: staged %d files", p.label, len(files))

	if p.opts.DryRun {
		p.log.Infof("%s: dry run, stopping after staging", p.label)
		return p.rel, nil
	}

	tag := rv.New.String()
	if err := p.c.VCS.Tag(ctx, p.snap.Root, tag, p.tagMessage(tag)); err != nil {
		return p.fail(model.StagePushed, err)
	}
	if err := p.c.VCS.Push(ctx, p.snap.Root, p.snap.Descriptor, []string{tag}); err != nil {
		return p.fail(model.StagePushed, err)
	}
	p.rel.Pushed = true
	if err := p.advance(model.StagePushed); err != nil {
		return p.fail(model.StagePushed, err)
	}

	if err := p.c.Steps.RunStep(ctx, external.StepDeploy, p.snap.Root, env); err != nil {
		return p.fail(model.StageDeployed, err)
	}
	p.rel.Deployed = true
	if err := p.advance(model.StageDeployed); err != nil {
		return p.fail(model.StageDeployed, err)
	}
	return p.rel, nil
}

func (p *pipeline) advance(stage model.Stage) error {
	if err := p.rel.Advance(stage); err != nil {
		return err
	}
	p.log.Debugf("%s: %s", p.label, stage)
	return nil
}

func (p *pipeline) fail(stage model.Stage, err error) (*model.RepositoryRelease, error) {
	serr := &StageError{Repository: p.snap.ShortName(), Stage: stage, Err: err}
	p.rel.Fail(stage, serr)
	p.log.Errorf("%s: %s failed: %v", p.label, stage, err)
	return p.rel, serr
}

func (p *pipeline) step(ctx context.Context, step external.Step, env []string, stage model.Stage) error {
	if err := p.c.Steps.RunStep(ctx, step, p.snap.Root, env); err != nil {
		return err
	}
	return p.advance(stage)
}

// updateDependencies points every consumed coordinate with a pool entry at
// the pool's version, then rescans the tree and checks that nothing was
// missed. It reports whether any manifest changed.
func (p *pipeline) updateDependencies(ctx context.Context, versions *pool.Pool) (bool, error) {
	targets := versions.Updates(p.snap.Consumed)
	if len(targets) == 0 {
		return false, nil
	}
	rewritten := false
	for _, target := range targets {
		changed, err := p.c.Manifests.SetRequirement(p.snap.Root, target)
		if err != nil {
			return rewritten, fmt.Errorf("set %s: %w", target, err)
		}
		if changed {
			p.log.Debugf("%s: requirement -> %s", p.label, target)
		}
		rewritten = rewritten || changed
	}

	snap, err := manifest.Snapshot(p.c.Manifests, p.snap.Descriptor, p.snap.Root)
	if err != nil {
		return rewritten, err
	}
	p.snap = snap
	if stale := versions.Updates(snap.Consumed); len(stale) > 0 {
		names := make([]string, 0, len(stale))
		for _, c := range stale {
			names = append(names, c.String())
		}
		return rewritten, fmt.Errorf("%w: still not at %s", ErrIncompleteUpdate, strings.Join(names, ", "))
	}

	if rewritten {
		if _, err := p.c.VCS.Commit(ctx, p.snap.Root, dependencyCommitMessage(targets)); err != nil {
			return rewritten, err
		}
	}
	return rewritten, nil
}

// resolveVersion asks the oracle and applies the repository's increment
// policy. A repository whose dependencies were rewritten is always
// released, with a patch bump unless the policy says otherwise.
func (p *pipeline) resolveVersion(ctx context.Context, rewritten bool) (model.ReleaseVersion, error) {
	rv, err := p.c.Oracle.Resolve(ctx, p.snap.Root)
	if err != nil {
		return model.ReleaseVersion{}, err
	}
	inc := p.snap.Increment
	switch {
	case rv.HasChange() && inc != "" && inc != model.IncrementAuto:
		rv.New = rv.Current.Bump(inc)
	case !rv.HasChange() && rewritten:
		if inc == "" || inc == model.IncrementAuto {
			inc = model.IncrementPatch
		}
		rv.New = rv.Current.Bump(inc)
	}
	return rv, nil
}

func (p *pipeline) migrateMajor(ctx context.Context, rv model.ReleaseVersion) ([]model.Coordinate, error) {
	major := rv.NewMajorVersion()
	out := make([]model.Coordinate, 0, len(p.snap.Published))
	migratedAny := false
	for _, c := range p.snap.Published {
		migrated, changed, err := p.c.Manifests.MigrateMajor(p.snap.Root, c, major)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", c, err)
		}
		migratedAny = migratedAny || changed
		out = append(out, migrated)
	}
	if migratedAny {
		msg := fmt.Sprintf("chore(release): move module paths to major version %d", major)
		if _, err := p.c.VCS.Commit(ctx, p.snap.Root, msg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *pipeline) tagMessage(tag string) string {
	if p.opts.RunID == "" {
		return "release " + tag
	}
	return fmt.Sprintf("release %s\n\nCascade-Run: %s", tag, p.opts.RunID)
}

func dependencyCommitMessage(targets []model.Coordinate) string {
	var sb strings.Builder
	sb.WriteString("chore(deps): update released dependencies\n\n")
	for _, t := range targets {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	return sb.String()
}

// releasedCoordinates stamps v onto every coordinate in the form its module
// system expects: "vX.Y.Z" for Go modules, "X.Y.Z" otherwise.
func releasedCoordinates(coords []model.Coordinate, v model.Version) []model.Coordinate {
	out := make([]model.Coordinate, 0, len(coords))
	for _, c := range coords {
		ver := v.String()
		if c.Kind() != model.KindGoModule {
			ver = strings.TrimPrefix(ver, "v")
		}
		out = append(out, c.WithVersion(ver))
	}
	return out
}
