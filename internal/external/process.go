// Package external runs the processes cascade treats as opaque
// collaborators: git, the version oracle and the configured build, test,
// clean and deploy commands.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ProcessError is a process that ran and exited unsuccessfully. Output holds
// the combined stdout and stderr in full.
type ProcessError struct {
	Command  string
	Dir      string
	ExitCode int
	Output   string
	Err      error
}

func (e *ProcessError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s (in %s): exit status %d", e.Command, e.Dir, e.ExitCode)
	}
	return fmt.Sprintf("%s (in %s): exit status %d\n%s", e.Command, e.Dir, e.ExitCode, out)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) FormatStderr() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "command failed: %s\n", e.Command)
	fmt.Fprintf(&sb, "  dir: %s\n", e.Dir)
	fmt.Fprintf(&sb, "  exit status: %d\n", e.ExitCode)
	if out := strings.TrimRight(e.Output, "\n"); out != "" {
		sb.WriteString("  output:\n")
		for _, line := range strings.Split(out, "\n") {
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Run executes name with args in dir. env is appended to the current
// environment. The combined output is returned on success and carried in a
// *ProcessError on a non-zero exit. Failing to start the process is returned
// as a plain wrapped error.
func Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), &ProcessError{
			Command:  strings.Join(append([]string{name}, args...), " "),
			Dir:      dir,
			ExitCode: exitErr.ExitCode(),
			Output:   out.String(),
			Err:      err,
		}
	}
	return out.String(), fmt.Errorf("run %s: %w", name, err)
}

// Shell runs command through bash -c.
func Shell(ctx context.Context, dir string, env []string, command string) (string, error) {
	out, err := Run(ctx, dir, env, "bash", "-c", command)
	var perr *ProcessError
	if errors.As(err, &perr) {
		perr.Command = command
	}
	return out, err
}
