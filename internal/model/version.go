package model

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a semantic version. Build metadata is not retained.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// ParseVersion accepts "1.2.3" and "v1.2.3" (with optional pre-release).
// Shorthands such as "v1" or "v1.2" are rejected.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	v := raw
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return Version{}, &ConfigError{Field: "version", Message: fmt.Sprintf("%q is not a semantic version", raw)}
	}
	core := strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, &ConfigError{Field: "version", Message: fmt.Sprintf("%q must have major.minor.patch", raw)}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, &ConfigError{Field: "version", Message: fmt.Sprintf("%q: %v", raw, err)}
		}
		nums[i] = n
	}
	return Version{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Prerelease: strings.TrimPrefix(semver.Prerelease(v), "-"),
	}, nil
}

// MustParseVersion is ParseVersion for literals known to be valid.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) IsZero() bool {
	return v == Version{}
}

// String renders the canonical "vX.Y.Z[-pre]" form used for tags and go.mod.
func (v Version) String() string {
	s := fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Compare returns -1, 0 or +1 following semantic version precedence.
func (v Version) Compare(other Version) int {
	return semver.Compare(v.String(), other.String())
}

func (v Version) BumpMajor() Version { return Version{Major: v.Major + 1} }
func (v Version) BumpMinor() Version { return Version{Major: v.Major, Minor: v.Minor + 1} }

func (v Version) BumpPatch() Version {
	if v.Prerelease != "" {
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	}
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// Bump applies an increment kind. IncrementAuto leaves v unchanged.
func (v Version) Bump(kind Increment) Version {
	switch kind {
	case IncrementMajor:
		return v.BumpMajor()
	case IncrementMinor:
		return v.BumpMinor()
	case IncrementPatch:
		return v.BumpPatch()
	default:
		return v
	}
}

// ReleaseVersion pairs the last released version with the one being cut.
type ReleaseVersion struct {
	Current Version
	New     Version
}

// IsMajorUpdate reports whether the release crosses a major version.
func (r ReleaseVersion) IsMajorUpdate() bool {
	return r.Current.Major != r.New.Major
}

// NewMajorVersion is the major the module path must encode after release.
func (r ReleaseVersion) NewMajorVersion() int {
	return r.New.Major
}

// HasChange reports whether a new version is being published.
func (r ReleaseVersion) HasChange() bool {
	return r.Current != r.New
}

func (r ReleaseVersion) String() string {
	if !r.HasChange() {
		return r.Current.String()
	}
	return r.Current.String() + " -> " + r.New.String()
}
