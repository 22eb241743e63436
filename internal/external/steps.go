package external

import (
	"context"
	"fmt"

	"github.com/msageha/cascade/internal/model"
)

// Step names one of the configured shell commands.
type Step string

const (
	StepBuild  Step = "build"
	StepTest   Step = "test"
	StepClean  Step = "clean"
	StepDeploy Step = "deploy"
)

// Steps runs the configured commands. An empty command is a no-op.
type Steps struct {
	commands map[Step]string
}

func NewSteps(cfg model.CommandsConfig) *Steps {
	return &Steps{commands: map[Step]string{
		StepBuild:  cfg.Build,
		StepTest:   cfg.Test,
		StepClean:  cfg.Clean,
		StepDeploy: cfg.Deploy,
	}}
}

// RunStep runs step in root. env is added to the process environment.
func (s *Steps) RunStep(ctx context.Context, step Step, root string, env []string) error {
	command, ok := s.commands[step]
	if !ok {
		return fmt.Errorf("unknown step %q", step)
	}
	if command == "" {
		return nil
	}
	_, err := Shell(ctx, root, env, command)
	return err
}

// StepEnv is the environment every step sees.
func StepEnv(desc model.Descriptor, version model.Version) []string {
	return []string{
		"CASCADE_REPO=" + desc.ShortName(),
		"CASCADE_REPO_URL=" + desc.URL,
		"CASCADE_VERSION=" + version.String(),
	}
}
