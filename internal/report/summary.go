// Package report turns a release result into the files and terminal
// summary an operator reads after a run.
package report

import (
	"strings"
	"time"

	"github.com/msageha/cascade/internal/model"
	"github.com/msageha/cascade/internal/release"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

type Summary struct {
	RunID            string              `yaml:"run_id"`
	Project          string              `yaml:"project,omitempty"`
	DryRun           bool                `yaml:"dry_run"`
	StartedAt        time.Time           `yaml:"started_at"`
	FinishedAt       time.Time           `yaml:"finished_at"`
	Outcome          string              `yaml:"outcome"`
	Error            string              `yaml:"error,omitempty"`
	Levels           [][]string          `yaml:"levels"`
	Repositories     []RepositorySummary `yaml:"repositories"`
	CheckoutFailures []CheckoutSummary   `yaml:"checkout_failures,omitempty"`
}

type RepositorySummary struct {
	Name        string   `yaml:"name"`
	URL         string   `yaml:"url"`
	Branch      string   `yaml:"branch"`
	Level       int      `yaml:"level"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Stage       string   `yaml:"stage"`
	FailedStage string   `yaml:"failed_stage,omitempty"`
	Current     string   `yaml:"current_version,omitempty"`
	New         string   `yaml:"new_version,omitempty"`
	Coordinates []string `yaml:"coordinates,omitempty"`
	Pushed      bool     `yaml:"pushed"`
	Deployed    bool     `yaml:"deployed"`
	Error       string   `yaml:"error,omitempty"`
}

type CheckoutSummary struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Error string `yaml:"error"`
}

// Summarize flattens res. runErr is the error the run ended with, if any.
func Summarize(res *release.Result, runErr error, project string, started, finished time.Time) Summary {
	s := Summary{
		RunID:      res.RunID,
		Project:    project,
		DryRun:     res.DryRun,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Outcome:    OutcomeSuccess,
	}
	if runErr != nil || res.Failed() {
		s.Outcome = OutcomeFailed
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	if res.Graph != nil {
		for _, level := range res.Graph.Levels {
			names := make([]string, 0, len(level))
			for _, snap := range level {
				names = append(names, snap.ShortName())
			}
			s.Levels = append(s.Levels, names)
		}
	}
	for _, rel := range res.Releases {
		s.Repositories = append(s.Repositories, summarizeRelease(res, rel))
	}
	for _, f := range res.CheckoutFailures {
		s.CheckoutFailures = append(s.CheckoutFailures, CheckoutSummary{
			Name:  f.Repository.ShortName(),
			URL:   f.Repository.URL,
			Error: f.Err.Error(),
		})
	}
	return s
}

func summarizeRelease(res *release.Result, rel *model.RepositoryRelease) RepositorySummary {
	rs := RepositorySummary{
		Name:     rel.Repository.ShortName(),
		URL:      rel.Repository.URL,
		Branch:   rel.Repository.Branch,
		Stage:    string(rel.Stage),
		Pushed:   rel.Pushed,
		Deployed: rel.Deployed,
	}
	if res.Graph != nil {
		if level, ok := res.Graph.Level(rel.Repository.Dir); ok {
			rs.Level = level + 1
		}
		for _, p := range res.Graph.Providers(rel.Repository.Dir) {
			rs.DependsOn = append(rs.DependsOn, p.ShortName())
		}
	}
	if !rel.Version.Current.IsZero() || !rel.Version.New.IsZero() {
		rs.Current = rel.Version.Current.String()
		rs.New = rel.Version.New.String()
	}
	for _, c := range rel.Coordinates {
		rs.Coordinates = append(rs.Coordinates, c.String())
	}
	if rel.Failed() {
		rs.FailedStage = string(rel.FailedStage)
		if rel.Err != nil {
			rs.Error = firstLine(rel.Err.Error())
		}
	}
	return rs
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
