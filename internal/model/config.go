// Package model defines cascade's configuration, coordinates, versions,
// repository snapshots and release records.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project      ProjectConfig      `yaml:"project"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Repositories []RepositoryConfig `yaml:"repositories"`
	Run          RunConfig          `yaml:"run"`
	Commands     CommandsConfig     `yaml:"commands"`
	Commit       CommitConfig       `yaml:"commit"`
	Staging      StagingConfig      `yaml:"staging"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
}

type WorkspaceConfig struct {
	// CheckoutDir holds one working tree per repository.
	CheckoutDir string `yaml:"checkout_dir"`
	ReportDir   string `yaml:"report_dir"`
}

type RepositoryConfig struct {
	URL       string `yaml:"url"`
	Branch    string `yaml:"branch,omitempty"`
	SkipTests bool   `yaml:"skip_tests,omitempty"`
	Increment string `yaml:"increment,omitempty"`
}

type RunConfig struct {
	Concurrency int  `yaml:"concurrency"`
	DryRun      bool `yaml:"dry_run"`
	SkipTests   bool `yaml:"skip_tests"`
	// Sequential forces a width of one inside every level.
	Sequential bool `yaml:"sequential"`
	// ReleaseFrom lists trigger repositories as "<dir>" or "<dir>#<branch>".
	ReleaseFrom []string `yaml:"release_from,omitempty"`
}

// CommandsConfig holds shell commands run inside a repository's working
// tree. Version, when empty, selects the git history oracle.
type CommandsConfig struct {
	Build   string `yaml:"build"`
	Test    string `yaml:"test"`
	Clean   string `yaml:"clean"`
	Deploy  string `yaml:"deploy"`
	Version string `yaml:"version,omitempty"`
}

type CommitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
	Remote      string `yaml:"remote"`
}

type StagingConfig struct {
	Dir string `yaml:"dir"`
	// Upstream is appended to GOPROXY after the staging directory.
	Upstream string    `yaml:"upstream"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultConcurrency = 4
	DefaultRemote      = "origin"
	DefaultUpstream    = "https://proxy.golang.org,direct"
)

// LoadConfig reads a YAML config, loads .env from the working directory and
// applies environment overrides and defaults. Relative workspace paths are
// resolved against the config file's directory.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CASCADE_S3_ENDPOINT")); v != "" {
		c.Staging.S3.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("CASCADE_S3_BUCKET")); v != "" {
		c.Staging.S3.Bucket = v
	}
	c.Staging.S3.AccessKey = strings.TrimSpace(os.Getenv("CASCADE_S3_ACCESS_KEY"))
	c.Staging.S3.SecretKey = strings.TrimSpace(os.Getenv("CASCADE_S3_SECRET_KEY"))
	if v := strings.TrimSpace(os.Getenv("CASCADE_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

// ApplyDefaults fills unset fields. base anchors relative directories.
func (c *Config) ApplyDefaults(base string) {
	if c.Run.Concurrency == 0 {
		c.Run.Concurrency = DefaultConcurrency
	}
	if c.Workspace.CheckoutDir == "" {
		c.Workspace.CheckoutDir = "repos"
	}
	if c.Workspace.ReportDir == "" {
		c.Workspace.ReportDir = "reports"
	}
	if c.Staging.Dir == "" {
		c.Staging.Dir = "staging"
	}
	if c.Staging.Upstream == "" {
		c.Staging.Upstream = DefaultUpstream
	}
	if c.Staging.S3.Region == "" {
		c.Staging.S3.Region = "us-east-1"
	}
	if c.Commit.Remote == "" {
		c.Commit.Remote = DefaultRemote
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Workspace.CheckoutDir = resolvePath(base, c.Workspace.CheckoutDir)
	c.Workspace.ReportDir = resolvePath(base, c.Workspace.ReportDir)
	c.Staging.Dir = resolvePath(base, c.Staging.Dir)
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// EffectiveConcurrency is the per-level width requested by the config.
func (c Config) EffectiveConcurrency() int {
	if c.Run.Sequential {
		return 1
	}
	return c.Run.Concurrency
}

// Descriptors validates the repository list and returns descriptors in
// configuration order.
func (c Config) Descriptors() ([]Descriptor, error) {
	errs := &ConfigErrors{}
	out := make([]Descriptor, 0, len(c.Repositories))
	dirs := make(map[string]int, len(c.Repositories))
	for i, rc := range c.Repositories {
		field := fmt.Sprintf("repositories[%d]", i)
		desc, err := NewDescriptor(rc.URL, rc.Branch)
		if err != nil {
			errs.AddErr(field+".url", err)
			continue
		}
		inc, err := ParseIncrement(rc.Increment)
		if err != nil {
			errs.AddErr(field+".increment", err)
			continue
		}
		desc.Increment = inc
		desc.SkipTests = rc.SkipTests
		if prev, dup := dirs[desc.Dir]; dup {
			errs.Add(field+".url", fmt.Sprintf("checkout directory %q already used by repositories[%d]", desc.Dir, prev))
			continue
		}
		dirs[desc.Dir] = i
		out = append(out, desc)
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate reports every configuration error of the run.
func (c Config) Validate() error {
	errs := &ConfigErrors{}
	if c.Run.Concurrency <= 0 {
		errs.Add("run.concurrency", fmt.Sprintf("must be positive, got %d", c.Run.Concurrency))
	}
	if len(c.Repositories) == 0 {
		errs.Add("repositories", "at least one repository is required")
	}
	descs, err := c.Descriptors()
	if err != nil {
		if ce, ok := err.(*ConfigErrors); ok {
			errs.Errors = append(errs.Errors, ce.Errors...)
		} else {
			errs.AddErr("repositories", err)
		}
	} else if _, err := ResolveTriggers(descs, c.Run.ReleaseFrom); err != nil {
		errs.AddErr("run.release_from", err)
	}
	if c.Staging.S3.Enabled {
		if c.Staging.S3.Endpoint == "" {
			errs.Add("staging.s3.endpoint", "required when s3 is enabled")
		}
		if c.Staging.S3.Bucket == "" {
			errs.Add("staging.s3.bucket", "required when s3 is enabled")
		}
	}
	return errs.ErrOrNil()
}

// ResolveTriggers maps "<dir>[#<branch>]" entries to repository directory
// names. A branch that disagrees with the repository's configured branch is
// a configuration error.
func ResolveTriggers(descs []Descriptor, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	byDir := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byDir[d.Dir] = d
	}
	out := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name, branch, hasBranch := strings.Cut(strings.TrimSpace(entry), "#")
		d, ok := byDir[name]
		if !ok {
			return nil, &ConfigError{Field: "release_from", Message: fmt.Sprintf("unknown repository %q", name)}
		}
		if hasBranch && branch != d.Branch {
			return nil, &ConfigError{Field: "release_from", Message: fmt.Sprintf("repository %q is configured for branch %q, not %q", name, d.Branch, branch)}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}
