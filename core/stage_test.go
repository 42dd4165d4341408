package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSequence(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 7)

	for i := 0; i < len(stages)-1; i++ {
		assert.True(t, stages[i].Before(stages[i+1]))
		assert.Equal(t, stages[i+1], stages[i].Next())
	}
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageFinalization.Terminal())
	assert.Equal(t, StageFinalization, StageFinalization.Next())

	for _, s := range Stages() {
		if s != StageFinalization {
			assert.False(t, s.Terminal(), s.String())
		}
	}
}

func TestParseStageRoundTrip(t *testing.T) {
	for _, s := range Stages() {
		parsed, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStage("warmup")
	assert.Error(t, err)
}

func TestStageStringUnknown(t *testing.T) {
	assert.Equal(t, "stage(42)", Stage(42).String())
	assert.False(t, Stage(42).Valid())
}
