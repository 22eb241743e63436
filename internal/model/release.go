package model

import "fmt"

// Stage is a position in a repository's release state machine.
type Stage string

const (
	StageCheckedOut           Stage = "checked_out"
	StageDependenciesUpdated  Stage = "dependencies_updated"
	StageVersionResolved      Stage = "version_resolved"
	StageMajorVersionMigrated Stage = "major_version_migrated"
	StageBuilt                Stage = "built"
	StageTested               Stage = "tested"
	StageCleaned              Stage = "cleaned"
	StagePublishedStaging     Stage = "published_staging"
	StagePushed               Stage = "pushed"
	StageDeployed             Stage = "deployed"
	StageUnchanged            Stage = "unchanged"
	StageFailed               Stage = "failed"
)

var terminalStages = map[Stage]bool{
	StageDeployed:  true,
	StageUnchanged: true,
	StageFailed:    true,
}

// Stages only move forward; optional stages (major migration, tests) may be
// skipped and any non-terminal stage may fail.
var validStageTransitions = map[Stage]map[Stage]bool{
	StageCheckedOut: {
		StageDependenciesUpdated: true,
	},
	StageDependenciesUpdated: {
		StageVersionResolved: true,
	},
	StageVersionResolved: {
		StageMajorVersionMigrated: true,
		StageBuilt:                true,
		StageUnchanged:            true,
	},
	StageMajorVersionMigrated: {
		StageBuilt: true,
	},
	StageBuilt: {
		StageTested:  true,
		StageCleaned: true,
	},
	StageTested: {
		StageCleaned: true,
	},
	StageCleaned: {
		StagePublishedStaging: true,
	},
	StagePublishedStaging: {
		StagePushed: true,
	},
	StagePushed: {
		StageDeployed: true,
	},
}

func IsStageTerminal(s Stage) bool {
	return terminalStages[s]
}

func ValidateStageTransition(from, to Stage) error {
	if IsStageTerminal(from) {
		return fmt.Errorf("cannot transition from terminal stage %q", from)
	}
	allowed, ok := validStageTransitions[from]
	if !ok {
		return fmt.Errorf("unknown stage %q", from)
	}
	if to == StageFailed || allowed[to] {
		return nil
	}
	return fmt.Errorf("invalid stage transition: %q → %q", from, to)
}

// RepositoryRelease records what happened to one repository during a run.
type RepositoryRelease struct {
	Repository Descriptor
	Version    ReleaseVersion
	// Coordinates are the published coordinates at their released version.
	Coordinates []Coordinate
	Stage       Stage
	// FailedStage is the stage that was being attempted when Err occurred.
	FailedStage Stage
	Pushed      bool
	Deployed    bool
	Err         error
}

// NewRepositoryRelease starts a record for a checked-out repository.
func NewRepositoryRelease(desc Descriptor) *RepositoryRelease {
	return &RepositoryRelease{Repository: desc, Stage: StageCheckedOut}
}

// Advance moves the release to stage, enforcing the state machine.
func (r *RepositoryRelease) Advance(stage Stage) error {
	if err := ValidateStageTransition(r.Stage, stage); err != nil {
		return fmt.Errorf("%s: %w", r.Repository.ShortName(), err)
	}
	r.Stage = stage
	return nil
}

// Fail records err against the stage that was being attempted.
func (r *RepositoryRelease) Fail(attempted Stage, err error) {
	r.FailedStage = attempted
	r.Err = err
	r.Stage = StageFailed
}

func (r *RepositoryRelease) Failed() bool {
	return r.Stage == StageFailed
}
