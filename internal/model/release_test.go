package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStageTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		ok       bool
	}{
		{StageCheckedOut, StageDependenciesUpdated, true},
		{StageCheckedOut, StageVersionResolved, false},
		{StageVersionResolved, StageBuilt, true},
		{StageVersionResolved, StageMajorVersionMigrated, true},
		{StageVersionResolved, StageUnchanged, true},
		{StageBuilt, StageCleaned, true},
		{StageBuilt, StageTested, true},
		{StageCleaned, StageBuilt, false},
		{StagePublishedStaging, StagePushed, true},
		{StagePublishedStaging, StageDeployed, false},
		{StagePushed, StageFailed, true},
		{StageDeployed, StageFailed, false},
		{StageFailed, StageCheckedOut, false},
		{Stage("bogus"), StageBuilt, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateStageTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRepositoryRelease_AdvanceAndFail(t *testing.T) {
	r := NewRepositoryRelease(Descriptor{Dir: "core"})
	require.NoError(t, r.Advance(StageDependenciesUpdated))
	require.Error(t, r.Advance(StageCheckedOut))
	assert.Equal(t, StageDependenciesUpdated, r.Stage)

	cause := errors.New("boom")
	r.Fail(StageVersionResolved, cause)
	assert.True(t, r.Failed())
	assert.Equal(t, StageVersionResolved, r.FailedStage)
	assert.Same(t, cause, r.Err)
	assert.Error(t, r.Advance(StageBuilt))
}
