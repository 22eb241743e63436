// Package staging publishes released builds to a local distribution channel
// keyed by version, so consumers in later levels resolve them before
// anything is pushed. Go modules are laid out as a GOPROXY file tree; other
// artifacts as <namespace>/<name>/<version>/artifact.yaml.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	modzip "golang.org/x/mod/zip"
	"gopkg.in/yaml.v3"

	"github.com/msageha/cascade/internal/model"
)

// Mirror receives a copy of every staged file.
type Mirror interface {
	Upload(ctx context.Context, key, path string) error
}

// Dir is a staging channel rooted at a directory.
type Dir struct {
	root     string
	upstream string
	mirror   Mirror
	now      func() time.Time

	mu sync.Mutex
	// staged holds the module paths published so far, for GONOSUMDB.
	staged map[string]bool
}

func NewDir(root, upstream string, mirror Mirror) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Dir{
		root:     abs,
		upstream: upstream,
		mirror:   mirror,
		now:      time.Now,
		staged:   make(map[string]bool),
	}, nil
}

func (d *Dir) Root() string { return d.root }

// Env points the Go toolchain at the staging tree first. Staged modules are
// excluded from checksum database lookups since they are not public yet.
func (d *Dir) Env() []string {
	proxy := "file://" + filepath.ToSlash(d.root)
	if d.upstream != "" {
		proxy += "," + d.upstream
	}
	env := []string{"GOPROXY=" + proxy}

	d.mu.Lock()
	paths := make([]string, 0, len(d.staged))
	for p := range d.staged {
		paths = append(paths, p)
	}
	d.mu.Unlock()
	if len(paths) > 0 {
		sort.Strings(paths)
		env = append(env, "GONOSUMDB="+strings.Join(paths, ","))
	}
	return env
}

// Stage publishes every coordinate released from the working tree at root.
// Pipelines of one level call Stage concurrently for different repositories.
func (d *Dir) Stage(ctx context.Context, root string, coords []model.Coordinate) ([]string, error) {
	var files []string
	for _, c := range coords {
		var (
			written []string
			err     error
		)
		switch c := c.(type) {
		case model.ModuleCoordinate:
			written, err = d.stageModule(root, c)
		case model.ArtifactCoordinate:
			written, err = d.stageArtifact(c)
		default:
			err = fmt.Errorf("cannot stage %s coordinate %s", c.Kind(), c)
		}
		if err != nil {
			return files, err
		}
		files = append(files, written...)
	}
	if d.mirror != nil {
		for _, f := range files {
			rel, err := filepath.Rel(d.root, f)
			if err != nil {
				return files, fmt.Errorf("mirror %s: %w", f, err)
			}
			if err := d.mirror.Upload(ctx, filepath.ToSlash(rel), f); err != nil {
				return files, fmt.Errorf("mirror %s: %w", rel, err)
			}
		}
	}
	return files, nil
}

type versionInfo struct {
	Version string
	Time    time.Time
}

func (d *Dir) stageModule(root string, c model.ModuleCoordinate) ([]string, error) {
	moduleDir, err := findModuleDir(root, c.Path)
	if err != nil {
		return nil, err
	}
	escPath, err := module.EscapePath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("escape %s: %w", c.Path, err)
	}
	escVer, err := module.EscapeVersion(c.Ver)
	if err != nil {
		return nil, fmt.Errorf("escape %s: %w", c.Ver, err)
	}
	vdir := filepath.Join(d.root, filepath.FromSlash(escPath), "@v")
	if err := os.MkdirAll(vdir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", vdir, err)
	}

	base := filepath.Join(vdir, escVer)
	info, err := json.Marshal(versionInfo{Version: c.Ver, Time: d.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal info: %w", err)
	}
	if err := os.WriteFile(base+".info", info, 0644); err != nil {
		return nil, fmt.Errorf("write info: %w", err)
	}
	gomod, err := os.ReadFile(filepath.Join(moduleDir, "go.mod"))
	if err != nil {
		return nil, fmt.Errorf("read go.mod: %w", err)
	}
	if err := os.WriteFile(base+".mod", gomod, 0644); err != nil {
		return nil, fmt.Errorf("write mod: %w", err)
	}
	if err := writeZip(base+".zip", moduleDir, c); err != nil {
		return nil, err
	}
	if err := d.appendList(filepath.Join(vdir, "list"), c.Ver); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.staged[c.Path] = true
	d.mu.Unlock()
	return []string{base + ".info", base + ".mod", base + ".zip", filepath.Join(vdir, "list")}, nil
}

func writeZip(path, moduleDir string, c model.ModuleCoordinate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	if err := modzip.CreateFromDir(f, module.Version{Path: c.Path, Version: c.Ver}, moduleDir); err != nil {
		f.Close()
		return fmt.Errorf("zip %s: %w", c, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func (d *Dir) appendList(path, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read list: %w", err)
	}
	for _, v := range strings.Split(string(existing), "\n") {
		if v == version {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open list: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, version); err != nil {
		return fmt.Errorf("append list: %w", err)
	}
	return nil
}

type artifactRecord struct {
	Namespace string    `yaml:"namespace,omitempty"`
	Name      string    `yaml:"name"`
	Version   string    `yaml:"version"`
	StagedAt  time.Time `yaml:"staged_at"`
}

func (d *Dir) stageArtifact(c model.ArtifactCoordinate) ([]string, error) {
	if c.Ver == "" {
		return nil, fmt.Errorf("cannot stage %s without a version", c)
	}
	dir := filepath.Join(d.root, "artifacts", c.Group, c.Artifact, c.Ver)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(artifactRecord{
		Namespace: c.Group,
		Name:      c.Artifact,
		Version:   c.Ver,
		StagedAt:  d.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal artifact record: %w", err)
	}
	path := filepath.Join(dir, "artifact.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write artifact record: %w", err)
	}
	return []string{path}, nil
}

// findModuleDir locates the directory whose go.mod declares modPath.
func findModuleDir(root, modPath string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			name := de.Name()
			if path != root && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if de.Name() != "go.mod" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if modfile.ModulePath(data) == modPath {
			found = filepath.Dir(path)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("find module %s: %w", modPath, err)
	}
	if found == "" {
		return "", fmt.Errorf("no go.mod under %s declares %s", root, modPath)
	}
	return found, nil
}
