package release

import (
	"context"
	"errors"

	"github.com/msageha/cascade/internal/external"
	"github.com/msageha/cascade/internal/manifest"
	"github.com/msageha/cascade/internal/model"
)

// CheckoutProvider guarantees a working tree at the descriptor's branch and
// returns its root.
type CheckoutProvider interface {
	Checkout(ctx context.Context, desc model.Descriptor) (string, error)
}

// Manifests scans working trees and rewrites their dependency coordinates.
type Manifests interface {
	manifest.Scanner
	manifest.Rewriter
}

// VersionOracle returns the current and next version from history. A result
// with no change means nothing publishable happened.
type VersionOracle interface {
	Resolve(ctx context.Context, root string) (model.ReleaseVersion, error)
}

// VCS records and publishes changes.
type VCS interface {
	Commit(ctx context.Context, root, message string) (bool, error)
	Tag(ctx context.Context, root, tag, message string) error
	Push(ctx context.Context, root string, desc model.Descriptor, tags []string) error
}

// StepRunner runs the build, test, clean and deploy commands.
type StepRunner interface {
	RunStep(ctx context.Context, step external.Step, root string, env []string) error
}

// Stager publishes to the staging channel and exposes the environment that
// lets later builds resolve staged versions.
type Stager interface {
	Stage(ctx context.Context, root string, coords []model.Coordinate) ([]string, error)
	Env() []string
}

type Collaborators struct {
	Checkout  CheckoutProvider
	Manifests Manifests
	Oracle    VersionOracle
	VCS       VCS
	Steps     StepRunner
	Stager    Stager
}

func (c Collaborators) validate() error {
	switch {
	case c.Checkout == nil:
		return errors.New("checkout provider is required")
	case c.Manifests == nil:
		return errors.New("manifest handler is required")
	case c.Oracle == nil:
		return errors.New("version oracle is required")
	case c.VCS == nil:
		return errors.New("vcs is required")
	case c.Steps == nil:
		return errors.New("step runner is required")
	case c.Stager == nil:
		return errors.New("stager is required")
	}
	return nil
}
