package model

import "sort"

// Snapshot is a repository's published and consumed coordinates as found in
// its checked-out tree. It is rebuilt after every manifest mutation.
type Snapshot struct {
	Descriptor

	// Root is the absolute path of the working tree.
	Root string
	// Published holds one coordinate per build module in the tree.
	Published []Coordinate
	// Consumed is the flattened, de-duplicated set of dependency
	// coordinates across every module.
	Consumed []Coordinate
	// Modules maps a module's directory (relative to Root) to its direct
	// dependencies.
	Modules map[string][]Coordinate
}

// NewSnapshot flattens per-module dependencies into Consumed. The first
// occurrence of an exact coordinate wins; module keys are visited in sorted
// order so the result is deterministic. Requirements between modules of the
// same repository are not consumed dependencies.
func NewSnapshot(desc Descriptor, root string, published []Coordinate, modules map[string][]Coordinate) *Snapshot {
	s := &Snapshot{
		Descriptor: desc,
		Root:       root,
		Published:  published,
		Modules:    modules,
	}
	dirs := make([]string, 0, len(modules))
	for dir := range modules {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	seen := make(map[string]bool)
	for _, dir := range dirs {
		for _, c := range modules[dir] {
			k := c.Key() + "@" + c.Name() + "@" + c.Version()
			if seen[k] {
				continue
			}
			if _, own := FindSameArtifact(published, c); own {
				continue
			}
			seen[k] = true
			s.Consumed = append(s.Consumed, c)
		}
	}
	return s
}

// Publishes reports whether c is the same artifact as one of s's published
// coordinates.
func (s *Snapshot) Publishes(c Coordinate) bool {
	_, ok := FindSameArtifact(s.Published, c)
	return ok
}

// Consumes reports whether any consumed coordinate is published by provider.
// A repository never consumes itself.
func (s *Snapshot) Consumes(provider *Snapshot) bool {
	if provider == nil || provider.Dir == s.Dir {
		return false
	}
	for _, c := range s.Consumed {
		if provider.Publishes(c) {
			return true
		}
	}
	return false
}
