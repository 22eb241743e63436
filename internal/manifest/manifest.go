// Package manifest extracts and rewrites dependency coordinates in a
// checked-out working tree. Each module system plugs in as a Handler; the
// Registry fans scans out to every handler and routes rewrites by
// coordinate kind.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/cascade/internal/model"
)

// Result is what a scan finds in one working tree.
type Result struct {
	Published []model.Coordinate
	// Modules maps a module directory relative to the root ("." for the
	// root itself) to the module's direct dependencies.
	Modules map[string][]model.Coordinate
}

func (r *Result) merge(o Result) {
	r.Published = append(r.Published, o.Published...)
	if len(o.Modules) == 0 {
		return
	}
	if r.Modules == nil {
		r.Modules = make(map[string][]model.Coordinate, len(o.Modules))
	}
	for dir, deps := range o.Modules {
		r.Modules[dir] = append(r.Modules[dir], deps...)
	}
}

// Scanner derives published artifacts and per-module dependencies.
type Scanner interface {
	Scan(root string) (Result, error)
}

// Rewriter mutates manifests in place.
type Rewriter interface {
	// SetRequirement points every requirement on the same artifact as
	// target at target. It reports whether any file changed.
	SetRequirement(root string, target model.Coordinate) (bool, error)
	// MigrateMajor re-encodes a published coordinate for a new major
	// version and returns the migrated coordinate.
	MigrateMajor(root string, published model.Coordinate, major int) (model.Coordinate, bool, error)
}

// Handler is one module system.
type Handler interface {
	Scanner
	Rewriter
	Kind() model.CoordinateKind
}

// Registry dispatches to the registered handlers in registration order.
type Registry struct {
	handlers []Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

func (r *Registry) Scan(root string) (Result, error) {
	var out Result
	for _, h := range r.handlers {
		res, err := h.Scan(root)
		if err != nil {
			return Result{}, fmt.Errorf("scan %s manifests: %w", h.Kind(), err)
		}
		out.merge(res)
	}
	return out, nil
}

func (r *Registry) SetRequirement(root string, target model.Coordinate) (bool, error) {
	h, err := r.handler(target.Kind())
	if err != nil {
		return false, err
	}
	return h.SetRequirement(root, target)
}

func (r *Registry) MigrateMajor(root string, published model.Coordinate, major int) (model.Coordinate, bool, error) {
	h, err := r.handler(published.Kind())
	if err != nil {
		return nil, false, err
	}
	return h.MigrateMajor(root, published, major)
}

func (r *Registry) handler(kind model.CoordinateKind) (Handler, error) {
	for _, h := range r.handlers {
		if h.Kind() == kind {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no manifest handler for %s coordinates", kind)
}

// Snapshot scans root and builds the repository snapshot.
func Snapshot(s Scanner, desc model.Descriptor, root string) (*model.Snapshot, error) {
	res, err := s.Scan(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.ShortName(), err)
	}
	return model.NewSnapshot(desc, root, res.Published, res.Modules), nil
}

// findFiles returns every file called name under root, skipping VCS
// metadata, vendor trees, testdata and "_" or "." prefixed directories.
// Paths are returned in lexical walk order.
func findFiles(root, name string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

func skipDir(name string) bool {
	return name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func relDir(root, file string) string {
	rel, err := filepath.Rel(root, filepath.Dir(file))
	if err != nil {
		return filepath.Dir(file)
	}
	return filepath.ToSlash(rel)
}

// writeFilePreservingMode replaces path's content, keeping its permissions.
func writeFilePreservingMode(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
