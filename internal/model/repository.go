package model

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultBranch keeps whatever the remote HEAD points at.
const DefaultBranch = "HEAD"

// Increment is a per-repository version increment policy.
type Increment string

const (
	IncrementAuto  Increment = "auto"
	IncrementPatch Increment = "patch"
	IncrementMinor Increment = "minor"
	IncrementMajor Increment = "major"
)

var validIncrements = map[Increment]bool{
	IncrementAuto:  true,
	IncrementPatch: true,
	IncrementMinor: true,
	IncrementMajor: true,
}

// ParseIncrement maps an empty string to IncrementAuto.
func ParseIncrement(s string) (Increment, error) {
	inc := Increment(strings.ToLower(strings.TrimSpace(s)))
	if inc == "" {
		return IncrementAuto, nil
	}
	if !validIncrements[inc] {
		return "", &ConfigError{Field: "increment", Message: fmt.Sprintf("unknown increment policy %q", s)}
	}
	return inc, nil
}

// Descriptor identifies one repository taking part in a run.
type Descriptor struct {
	URL       string    `yaml:"url"`
	Dir       string    `yaml:"dir"`
	Branch    string    `yaml:"branch"`
	SkipTests bool      `yaml:"skip_tests,omitempty"`
	Increment Increment `yaml:"increment,omitempty"`
}

// NewDescriptor canonicalises rawURL and derives the checkout directory name.
func NewDescriptor(rawURL, branch string) (Descriptor, error) {
	canonical, dir, err := CanonicalURL(rawURL)
	if err != nil {
		return Descriptor{}, err
	}
	if strings.TrimSpace(branch) == "" {
		branch = DefaultBranch
	}
	return Descriptor{
		URL:       canonical,
		Dir:       dir,
		Branch:    branch,
		Increment: IncrementAuto,
	}, nil
}

// ShortName is the label used in logs and graph vertices.
func (d Descriptor) ShortName() string {
	return d.Dir
}

func (d Descriptor) String() string {
	if d.Branch == "" || d.Branch == DefaultBranch {
		return d.URL
	}
	return d.URL + "#" + d.Branch
}

// CanonicalURL strips the ".git" transport suffix and trailing slashes and
// returns the last path element as the directory name. Accepted forms are
// URLs with a scheme, scp-like "user@host:org/repo" and local paths.
func CanonicalURL(raw string) (canonical, dir string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", &ConfigError{Field: "repositories.url", Message: "empty repository URL"}
	}
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimRight(s, "/")

	var p string
	switch {
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", &ConfigError{Field: "repositories.url", Message: fmt.Sprintf("malformed URL %q: %v", raw, perr)}
		}
		if u.Scheme != "file" && u.Host == "" {
			return "", "", &ConfigError{Field: "repositories.url", Message: fmt.Sprintf("URL %q has no host", raw)}
		}
		p = u.Path
	case isSCPLike(s):
		_, p, _ = strings.Cut(s, ":")
	default:
		p = s
	}
	dir = path.Base(strings.TrimRight(p, "/"))
	if dir == "" || dir == "." || dir == "/" {
		return "", "", &ConfigError{Field: "repositories.url", Message: fmt.Sprintf("URL %q has no repository path", raw)}
	}
	return s, dir, nil
}

func isSCPLike(s string) bool {
	at := strings.Index(s, "@")
	colon := strings.Index(s, ":")
	slash := strings.Index(s, "/")
	return colon > 0 && at < colon && (slash < 0 || colon < slash)
}
