package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/mod/modfile"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/cascade/internal/model"
)

const goModFile = "go.mod"

// DefaultParseCacheSize bounds the number of distinct go.mod contents kept.
const DefaultParseCacheSize = 1024

type goModInfo struct {
	Module   string
	Requires []model.Coordinate
}

// GoModHandler scans and rewrites go.mod files. Parsed files are cached by
// content hash, so re-deriving a snapshot after a rewrite only reparses the
// files that actually changed.
type GoModHandler struct {
	cache  *lru.Cache[string, *goModInfo]
	group  singleflight.Group
	parses atomic.Int64
}

func NewGoModHandler(cacheSize int) (*GoModHandler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultParseCacheSize
	}
	cache, err := lru.New[string, *goModInfo](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create go.mod cache: %w", err)
	}
	return &GoModHandler{cache: cache}, nil
}

func (h *GoModHandler) Kind() model.CoordinateKind { return model.KindGoModule }

func (h *GoModHandler) Scan(root string) (Result, error) {
	files, err := findFiles(root, goModFile)
	if err != nil {
		return Result{}, err
	}
	res := Result{Modules: make(map[string][]model.Coordinate, len(files))}
	for _, file := range files {
		info, err := h.load(file)
		if err != nil {
			return Result{}, err
		}
		res.Published = append(res.Published, model.ModuleCoordinate{Path: info.Module})
		res.Modules[relDir(root, file)] = info.Requires
	}
	return res, nil
}

func (h *GoModHandler) load(file string) (*goModInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if info, ok := h.cache.Get(key); ok {
		return info, nil
	}
	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		if info, ok := h.cache.Get(key); ok {
			return info, nil
		}
		h.parses.Add(1)
		// Strict, like the rewrite path: a tree that scans must also be
		// rewritable.
		f, err := modfile.Parse(file, data, nil)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if f.Module == nil {
			return nil, fmt.Errorf("parse %s: missing module directive", file)
		}
		info := &goModInfo{Module: f.Module.Mod.Path}
		for _, r := range f.Require {
			info.Requires = append(info.Requires, model.ModuleCoordinate{Path: r.Mod.Path, Ver: r.Mod.Version})
		}
		h.cache.Add(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*goModInfo), nil
}

// SetRequirement updates requirements in every go.mod under root. When the
// target lives at a different major path the requirement is moved and the
// module's imports are rewritten to the new path.
func (h *GoModHandler) SetRequirement(root string, target model.Coordinate) (bool, error) {
	mc, ok := target.(model.ModuleCoordinate)
	if !ok {
		return false, fmt.Errorf("go.mod requirement: unsupported coordinate %s", target)
	}
	files, err := findFiles(root, goModFile)
	if err != nil {
		return false, err
	}
	changed := false
	for _, file := range files {
		fileChanged, err := h.setRequirementInFile(file, mc)
		if err != nil {
			return changed, err
		}
		changed = changed || fileChanged
	}
	return changed, nil
}

func (h *GoModHandler) setRequirementInFile(file string, target model.ModuleCoordinate) (bool, error) {
	f, err := parseGoMod(file)
	if err != nil {
		return false, err
	}
	var moved []string
	changed := false
	for _, r := range f.Require {
		current := model.ModuleCoordinate{Path: r.Mod.Path, Ver: r.Mod.Version}
		if !current.SameArtifact(target) || model.Equal(current, target) {
			continue
		}
		if current.Path == target.Path {
			if err := f.AddRequire(target.Path, target.Ver); err != nil {
				return false, fmt.Errorf("%s: set %s: %w", file, target, err)
			}
		} else {
			// DropRequire zeroes the entry in place.
			indirect := r.Indirect
			if err := f.DropRequire(current.Path); err != nil {
				return false, fmt.Errorf("%s: drop %s: %w", file, current.Path, err)
			}
			if !requires(f, target.Path) {
				f.AddNewRequire(target.Path, target.Ver, indirect)
			}
			if err := moveReplaces(f, current.Path, target.Path); err != nil {
				return false, fmt.Errorf("%s: %w", file, err)
			}
			moved = append(moved, current.Path)
		}
		changed = true
	}
	if !changed {
		return false, nil
	}
	if err := writeGoMod(file, f); err != nil {
		return false, err
	}
	moduleDir := filepath.Dir(file)
	for _, old := range moved {
		if _, err := rewriteImports(moduleDir, old, target.Path, nestedPaths(f, old)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// MigrateMajor rewrites the module directive of the go.mod publishing
// published to the path encoding major, and rewrites the module's
// self-imports.
func (h *GoModHandler) MigrateMajor(root string, published model.Coordinate, major int) (model.Coordinate, bool, error) {
	mc, ok := published.(model.ModuleCoordinate)
	if !ok {
		return nil, false, fmt.Errorf("go.mod migration: unsupported coordinate %s", published)
	}
	files, err := findFiles(root, goModFile)
	if err != nil {
		return nil, false, err
	}
	declared := make([]string, 0, len(files))
	for _, file := range files {
		if f, err := parseGoMod(file); err == nil && f.Module != nil {
			declared = append(declared, f.Module.Mod.Path)
		}
	}
	for _, file := range files {
		f, err := parseGoMod(file)
		if err != nil {
			return nil, false, err
		}
		if f.Module == nil {
			continue
		}
		current := model.ModuleCoordinate{Path: f.Module.Mod.Path, Ver: mc.Ver}
		if !current.SameArtifact(mc) {
			continue
		}
		migrated := current.WithMajor(major)
		if migrated.Path == current.Path {
			return migrated, false, nil
		}
		exclude := append(nestedPaths(f, current.Path), underPath(declared, current.Path)...)
		if err := f.AddModuleStmt(migrated.Path); err != nil {
			return nil, false, fmt.Errorf("%s: set module %s: %w", file, migrated.Path, err)
		}
		if err := writeGoMod(file, f); err != nil {
			return nil, false, err
		}
		if _, err := rewriteImports(filepath.Dir(file), current.Path, migrated.Path, exclude); err != nil {
			return nil, true, err
		}
		// Sibling modules of the repository follow the new path.
		for _, other := range files {
			if other == file {
				continue
			}
			if _, err := h.setRequirementInFile(other, migrated); err != nil {
				return nil, true, err
			}
		}
		return migrated, true, nil
	}
	return nil, false, fmt.Errorf("no go.mod under %s declares %s", root, mc.BasePath())
}

func requires(f *modfile.File, path string) bool {
	for _, r := range f.Require {
		if r.Mod.Path == path {
			return true
		}
	}
	return false
}

// moveReplaces re-keys replace directives on oldPath to newPath.
func moveReplaces(f *modfile.File, oldPath, newPath string) error {
	var reps []modfile.Replace
	for _, r := range f.Replace {
		if r.Old.Path == oldPath {
			reps = append(reps, *r)
		}
	}
	for _, r := range reps {
		if err := f.DropReplace(r.Old.Path, r.Old.Version); err != nil {
			return fmt.Errorf("drop replace %s: %w", r.Old.Path, err)
		}
		if err := f.AddReplace(newPath, "", r.New.Path, r.New.Version); err != nil {
			return fmt.Errorf("replace %s: %w", newPath, err)
		}
	}
	return nil
}

// nestedPaths lists the module paths f declares or requires below oldPath.
// Imports under them belong to those modules, not to oldPath.
func nestedPaths(f *modfile.File, oldPath string) []string {
	var paths []string
	if f.Module != nil {
		paths = append(paths, f.Module.Mod.Path)
	}
	for _, r := range f.Require {
		paths = append(paths, r.Mod.Path)
	}
	return underPath(paths, oldPath)
}

func underPath(paths []string, prefix string) []string {
	var out []string
	for _, p := range paths {
		if strings.HasPrefix(p, prefix+"/") {
			out = append(out, p)
		}
	}
	return out
}

func parseGoMod(file string) (*modfile.File, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	f, err := modfile.Parse(file, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return f, nil
}

func writeGoMod(file string, f *modfile.File) error {
	f.Cleanup()
	data, err := f.Format()
	if err != nil {
		return fmt.Errorf("format %s: %w", file, err)
	}
	return writeFilePreservingMode(file, data)
}

// rewriteImports replaces imports of oldPath (and its packages) with newPath
// in every .go file of the module rooted at moduleDir. Nested modules and
// imports under an exclude path are left alone. It returns the number of
// files changed.
func rewriteImports(moduleDir, oldPath, newPath string, exclude []string) (int, error) {
	var files []string
	err := filepath.WalkDir(moduleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == moduleDir {
				return nil
			}
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			if _, err := os.Stat(filepath.Join(path, goModFile)); err == nil {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", moduleDir, err)
	}
	count := 0
	for _, file := range files {
		changed, err := rewriteFileImports(file, oldPath, newPath, exclude)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

type importEdit struct {
	start, end int
	value      string
}

func rewriteFileImports(file, oldPath, newPath string, exclude []string) (bool, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", file, err)
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, src, parser.ImportsOnly)
	if err != nil {
		return false, fmt.Errorf("parse imports of %s: %w", file, err)
	}
	var edits []importEdit
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		if underAny(p, exclude) {
			continue
		}
		var replaced string
		switch {
		case p == oldPath:
			replaced = newPath
		case strings.HasPrefix(p, oldPath+"/"):
			replaced = newPath + strings.TrimPrefix(p, oldPath)
		default:
			continue
		}
		edits = append(edits, importEdit{
			start: fset.Position(spec.Path.Pos()).Offset,
			end:   fset.Position(spec.Path.End()).Offset,
			value: strconv.Quote(replaced),
		})
	}
	if len(edits) == 0 {
		return false, nil
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := src
	for _, e := range edits {
		var buf bytes.Buffer
		buf.Grow(len(out) - (e.end - e.start) + len(e.value))
		buf.Write(out[:e.start])
		buf.WriteString(e.value)
		buf.Write(out[e.end:])
		out = buf.Bytes()
	}
	return true, writeFilePreservingMode(file, out)
}

func underAny(p string, paths []string) bool {
	for _, x := range paths {
		if p == x || strings.HasPrefix(p, x+"/") {
			return true
		}
	}
	return false
}
