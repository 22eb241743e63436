package model

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/module"
)

// CoordinateKind identifies the module system a coordinate belongs to.
type CoordinateKind string

const (
	KindGoModule CoordinateKind = "gomod"
	KindArtifact CoordinateKind = "artifact"
)

// Coordinate is the identity of a publishable unit. Implementations decide
// what "same artifact" means for their module system so the linker never has
// to inspect the concrete type.
type Coordinate interface {
	Kind() CoordinateKind
	Namespace() string
	Name() string
	Version() string
	// Key is the version-independent identity. Two coordinates with equal
	// keys are the same artifact.
	Key() string
	SameArtifact(other Coordinate) bool
	WithVersion(version string) Coordinate
	String() string
}

// Equal reports whether a and b name the same artifact at the same name and
// version. Suffix-encoded module systems can match by identity while still
// differing in name.
func Equal(a, b Coordinate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SameArtifact(b) && a.Name() == b.Name() && a.Version() == b.Version()
}

// ArtifactCoordinate is a namespace-style coordinate (group:name:version).
type ArtifactCoordinate struct {
	Group    string `yaml:"namespace,omitempty"`
	Artifact string `yaml:"name"`
	Ver      string `yaml:"version,omitempty"`
}

func (c ArtifactCoordinate) Kind() CoordinateKind { return KindArtifact }
func (c ArtifactCoordinate) Namespace() string    { return c.Group }
func (c ArtifactCoordinate) Name() string         { return c.Artifact }
func (c ArtifactCoordinate) Version() string      { return c.Ver }

func (c ArtifactCoordinate) Key() string {
	return string(KindArtifact) + ":" + c.Group + ":" + c.Artifact
}

func (c ArtifactCoordinate) SameArtifact(other Coordinate) bool {
	o, ok := other.(ArtifactCoordinate)
	if !ok {
		return false
	}
	return c.Group == o.Group && c.Artifact == o.Artifact
}

func (c ArtifactCoordinate) WithVersion(version string) Coordinate {
	c.Ver = version
	return c
}

func (c ArtifactCoordinate) String() string {
	var sb strings.Builder
	if c.Group != "" {
		sb.WriteString(c.Group)
		sb.WriteByte(':')
	}
	sb.WriteString(c.Artifact)
	if c.Ver != "" {
		sb.WriteByte(':')
		sb.WriteString(c.Ver)
	}
	return sb.String()
}

// ModuleCoordinate is a Go module requirement. The major version is encoded
// in the path (example.com/pkg/v2) and is stripped for identity.
type ModuleCoordinate struct {
	Path string
	Ver  string
}

func (c ModuleCoordinate) Kind() CoordinateKind { return KindGoModule }
func (c ModuleCoordinate) Namespace() string    { return "" }
func (c ModuleCoordinate) Name() string         { return c.Path }
func (c ModuleCoordinate) Version() string      { return c.Ver }

// BasePath returns the module path without its major-version suffix.
func (c ModuleCoordinate) BasePath() string {
	prefix, _, ok := module.SplitPathVersion(c.Path)
	if !ok {
		return c.Path
	}
	return prefix
}

// MajorVersion returns the major version implied by the path suffix; paths
// without a suffix are major 0 or 1 and report 1.
func (c ModuleCoordinate) MajorVersion() int {
	_, suffix, ok := module.SplitPathVersion(c.Path)
	if !ok || suffix == "" {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimLeft(suffix, "/.v"))
	if err != nil {
		return 1
	}
	return n
}

// WithMajor returns the coordinate moved to the path encoding for major.
func (c ModuleCoordinate) WithMajor(major int) ModuleCoordinate {
	c.Path = MajorPath(c.BasePath(), major)
	return c
}

func (c ModuleCoordinate) Key() string {
	return string(KindGoModule) + ":" + c.BasePath()
}

func (c ModuleCoordinate) SameArtifact(other Coordinate) bool {
	o, ok := other.(ModuleCoordinate)
	if !ok {
		return false
	}
	return c.BasePath() == o.BasePath()
}

func (c ModuleCoordinate) WithVersion(version string) Coordinate {
	c.Ver = version
	return c
}

func (c ModuleCoordinate) String() string {
	if c.Ver == "" {
		return c.Path
	}
	return c.Path + "@" + c.Ver
}

// MajorPath encodes major into a module base path. gopkg.in paths use the
// ".vN" form, every other path the "/vN" form; majors below 2 carry no suffix
// except on gopkg.in where the suffix is mandatory.
func MajorPath(base string, major int) string {
	if strings.HasPrefix(base, "gopkg.in/") {
		if major < 1 {
			major = 1
		}
		return fmt.Sprintf("%s.v%d", base, major)
	}
	if major < 2 {
		return base
	}
	return fmt.Sprintf("%s/v%d", base, major)
}

// FindSameArtifact returns the first coordinate in set that is the same
// artifact as c.
func FindSameArtifact(set []Coordinate, c Coordinate) (Coordinate, bool) {
	for _, candidate := range set {
		if candidate.SameArtifact(c) {
			return candidate, true
		}
	}
	return nil, false
}
