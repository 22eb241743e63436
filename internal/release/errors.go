package release

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msageha/cascade/internal/model"
)

// ErrIncompleteUpdate means a consumed dependency still disagrees with the
// version pool after the dependency rewrite.
var ErrIncompleteUpdate = errors.New("dependency update incomplete")

// StageError is a pipeline failure attributed to one repository and the
// stage it was attempting.
type StageError struct {
	Repository string
	Stage      model.Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Repository, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FormatStderr names the repository and stage, followed by the cause. A
// cause that knows how to format itself (a failed process carries its full
// output) is rendered that way.
func (e *StageError) FormatStderr() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "error: repository %s failed at stage %s\n", e.Repository, e.Stage)
	var f interface{ FormatStderr() string }
	if errors.As(e.Err, &f) {
		for _, line := range strings.Split(strings.TrimRight(f.FormatStderr(), "\n"), "\n") {
			sb.WriteString("  ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		return sb.String()
	}
	fmt.Fprintf(&sb, "  cause: %v\n", e.Err)
	return sb.String()
}

// CheckoutFailure is a repository that never entered the graph.
type CheckoutFailure struct {
	Repository model.Descriptor
	Err        error
}
