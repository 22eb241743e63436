package external

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/msageha/cascade/internal/model"
)

// ErrNoCurrentVersion means the history carries no release tag to start from.
var ErrNoCurrentVersion = errors.New("no valid current version tag")

// CommandOracle runs a configured command in the working tree. The command
// prints "<current>" when there is no publishable change and
// "<current> <new>" otherwise.
type CommandOracle struct {
	Command string
}

func (o *CommandOracle) Resolve(ctx context.Context, root string) (model.ReleaseVersion, error) {
	out, err := Shell(ctx, root, nil, o.Command)
	if err != nil {
		return model.ReleaseVersion{}, err
	}
	return parseOracleOutput(out)
}

func parseOracleOutput(out string) (model.ReleaseVersion, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 || len(fields) > 2 {
		return model.ReleaseVersion{}, fmt.Errorf("%w: unexpected oracle output %q", ErrNoCurrentVersion, strings.TrimSpace(out))
	}
	current, err := model.ParseVersion(fields[0])
	if err != nil {
		return model.ReleaseVersion{}, fmt.Errorf("%w: %v", ErrNoCurrentVersion, err)
	}
	rv := model.ReleaseVersion{Current: current, New: current}
	if len(fields) == 2 {
		next, err := model.ParseVersion(fields[1])
		if err != nil {
			return model.ReleaseVersion{}, fmt.Errorf("oracle new version: %w", err)
		}
		if next.Compare(current) < 0 {
			return model.ReleaseVersion{}, fmt.Errorf("oracle new version %s precedes current %s", next, current)
		}
		rv.New = next
	}
	return rv, nil
}

// GitOracle derives versions from git history: the highest semantic version
// tag reachable from HEAD is current, and the conventional-commit types of
// the commits since that tag decide the increment.
type GitOracle struct{}

func (o *GitOracle) Resolve(ctx context.Context, root string) (model.ReleaseVersion, error) {
	out, err := Run(ctx, root, nil, "git", "tag", "--list", "--merged", "HEAD")
	if err != nil {
		return model.ReleaseVersion{}, err
	}
	tag, current, ok := latestVersionTag(strings.Split(out, "\n"))
	if !ok {
		return model.ReleaseVersion{}, ErrNoCurrentVersion
	}
	log, err := Run(ctx, root, nil, "git", "log", "--format=%B%x00", tag+"..HEAD")
	if err != nil {
		return model.ReleaseVersion{}, err
	}
	rv := model.ReleaseVersion{Current: current, New: current}
	if inc, changed := classifyCommits(splitCommitLog(log)); changed {
		rv.New = current.Bump(inc)
	}
	return rv, nil
}

// latestVersionTag picks the highest release tag. Pre-release tags are
// ignored.
func latestVersionTag(tags []string) (string, model.Version, bool) {
	var best string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if !semver.IsValid(t) || semver.Prerelease(t) != "" || semver.Canonical(t) != strings.TrimSuffix(t, semver.Build(t)) {
			continue
		}
		if best == "" || semver.Compare(t, best) > 0 {
			best = t
		}
	}
	if best == "" {
		return "", model.Version{}, false
	}
	v, err := model.ParseVersion(best)
	if err != nil {
		return "", model.Version{}, false
	}
	return best, v, true
}

func splitCommitLog(log string) []string {
	var out []string
	for _, m := range strings.Split(log, "\x00") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

var conventionalHeader = regexp.MustCompile(`^(\w+)(\([^)]*\))?(!)?:\s`)

// classifyCommits returns the largest increment the messages call for and
// whether there was anything to release at all.
func classifyCommits(messages []string) (model.Increment, bool) {
	if len(messages) == 0 {
		return model.IncrementAuto, false
	}
	inc := model.IncrementPatch
	for _, msg := range messages {
		header, body, _ := strings.Cut(msg, "\n")
		m := conventionalHeader.FindStringSubmatch(header)
		if m != nil && m[3] == "!" || strings.Contains(body, "BREAKING CHANGE:") || strings.Contains(body, "BREAKING-CHANGE:") {
			return model.IncrementMajor, true
		}
		if m != nil && m[1] == "feat" {
			inc = model.IncrementMinor
		}
	}
	return inc, true
}
