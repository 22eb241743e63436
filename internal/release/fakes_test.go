package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msageha/cascade/internal/external"
	"github.com/msageha/cascade/internal/manifest"
	"github.com/msageha/cascade/internal/model"
)

// world is a workspace of real go.mod trees with in-memory fakes for every
// process-backed collaborator.
type world struct {
	t     *testing.T
	dir   string
	descs []model.Descriptor

	checkout *fakeCheckout
	oracle   *fakeOracle
	vcs      *fakeVCS
	steps    *fakeSteps
	stager   *fakeStager
	gomod    *manifest.GoModHandler
}

func newWorld(t *testing.T) *world {
	t.Helper()
	gomod, err := manifest.NewGoModHandler(0)
	require.NoError(t, err)
	dir := t.TempDir()
	return &world{
		t:        t,
		dir:      dir,
		checkout: &fakeCheckout{base: dir, fail: map[string]error{}},
		oracle:   &fakeOracle{versions: map[string]model.ReleaseVersion{}, errs: map[string]error{}},
		vcs:      &fakeVCS{commits: map[string][]string{}, tags: map[string][]string{}, pushes: map[string]int{}},
		steps:    &fakeSteps{fail: map[string]error{}},
		stager:   &fakeStager{staged: map[string][]model.Coordinate{}},
		gomod:    gomod,
	}
}

// repo adds a repository publishing example.com/<dir> and requiring each
// "path version" entry of requires.
func (w *world) repo(dir, current, next string, requires ...string) *world {
	w.t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "module example.com/%s\n\ngo 1.22\n", dir)
	if len(requires) > 0 {
		sb.WriteString("\nrequire (\n")
		for _, r := range requires {
			fmt.Fprintf(&sb, "\t%s\n", r)
		}
		sb.WriteString(")\n")
	}
	w.write(dir, "go.mod", sb.String())
	w.descs = append(w.descs, model.Descriptor{
		URL:       "https://example.com/" + dir,
		Dir:       dir,
		Branch:    model.DefaultBranch,
		Increment: model.IncrementAuto,
	})
	w.oracle.set(dir, current, next)
	return w
}

func (w *world) write(dir, name, content string) {
	w.t.Helper()
	path := filepath.Join(w.dir, dir, name)
	require.NoError(w.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(w.t, os.WriteFile(path, []byte(content), 0644))
}

func (w *world) read(dir, name string) string {
	w.t.Helper()
	data, err := os.ReadFile(filepath.Join(w.dir, dir, name))
	require.NoError(w.t, err)
	return string(data)
}

func (w *world) descriptor(dir string) *model.Descriptor {
	for i := range w.descs {
		if w.descs[i].Dir == dir {
			return &w.descs[i]
		}
	}
	w.t.Fatalf("no repository %s", dir)
	return nil
}

func (w *world) collaborators() Collaborators {
	return Collaborators{
		Checkout:  w.checkout,
		Manifests: w.gomod,
		Oracle:    w.oracle,
		VCS:       w.vcs,
		Steps:     w.steps,
		Stager:    w.stager,
	}
}

func (w *world) run(opts Options) (*Result, error) {
	w.t.Helper()
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	r, err := NewRunner(w.collaborators(), opts, nil)
	require.NoError(w.t, err)
	return r.Run(context.Background(), w.descs)
}

type fakeCheckout struct {
	base string
	fail map[string]error
}

func (f *fakeCheckout) Checkout(_ context.Context, desc model.Descriptor) (string, error) {
	if err := f.fail[desc.Dir]; err != nil {
		return "", err
	}
	return filepath.Join(f.base, desc.Dir), nil
}

type fakeOracle struct {
	mu       sync.Mutex
	versions map[string]model.ReleaseVersion
	errs     map[string]error
}

func (f *fakeOracle) set(dir, current, next string) {
	f.versions[dir] = model.ReleaseVersion{Current: model.MustParseVersion(current), New: model.MustParseVersion(next)}
}

func (f *fakeOracle) Resolve(_ context.Context, root string) (model.ReleaseVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Base(root)
	if err := f.errs[dir]; err != nil {
		return model.ReleaseVersion{}, err
	}
	return f.versions[dir], nil
}

type fakeVCS struct {
	mu      sync.Mutex
	commits map[string][]string
	tags    map[string][]string
	pushes  map[string]int
	pushErr error
}

func (f *fakeVCS) Commit(_ context.Context, root, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[filepath.Base(root)] = append(f.commits[filepath.Base(root)], message)
	return true, nil
}

func (f *fakeVCS) Tag(_ context.Context, root, tag, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[filepath.Base(root)] = append(f.tags[filepath.Base(root)], tag)
	return nil
}

func (f *fakeVCS) Push(_ context.Context, root string, _ model.Descriptor, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes[filepath.Base(root)]++
	return nil
}

type fakeSteps struct {
	mu    sync.Mutex
	calls []string
	envs  map[string][]string
	fail  map[string]error
}

func (f *fakeSteps) RunStep(_ context.Context, step external.Step, root string, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := filepath.Base(root) + ":" + string(step)
	f.calls = append(f.calls, key)
	if f.envs == nil {
		f.envs = map[string][]string{}
	}
	f.envs[key] = env
	return f.fail[key]
}

func (f *fakeSteps) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

type fakeStager struct {
	mu     sync.Mutex
	staged map[string][]model.Coordinate
}

func (f *fakeStager) Stage(_ context.Context, root string, coords []model.Coordinate) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged[filepath.Base(root)] = append(f.staged[filepath.Base(root)], coords...)
	return nil, nil
}

func (f *fakeStager) Env() []string {
	return []string{"GOPROXY=file:///staging"}
}

// lazyRewriter claims to rewrite but leaves the tree alone.
type lazyRewriter struct {
	*manifest.GoModHandler
}

func (l lazyRewriter) SetRequirement(string, model.Coordinate) (bool, error) {
	return true, nil
}
