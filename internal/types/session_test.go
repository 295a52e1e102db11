package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageOrder(t *testing.T) {
	next, ok := StageExtraction.Next()
	assert.True(t, ok)
	assert.Equal(t, StageTranscription, next)

	next, ok = StageTranscription.Next()
	assert.True(t, ok)
	assert.Equal(t, StageAnalysis, next)

	_, ok = StageAnalysis.Next()
	assert.False(t, ok, "analysis is the last stage")
}

func TestStageStatus(t *testing.T) {
	assert.Equal(t, StatusExtracting, StageExtraction.Status())
	assert.Equal(t, StatusTranscribing, StageTranscription.Status())
	assert.Equal(t, StatusAnalyzing, StageAnalysis.Status())
}

func TestStageArtifactKinds(t *testing.T) {
	assert.Equal(t, KindRaw, StageExtraction.InputKind())
	assert.Equal(t, KindAudio, StageExtraction.OutputKind())
	assert.Equal(t, KindAudio, StageTranscription.InputKind())
	assert.Equal(t, KindTranscript, StageTranscription.OutputKind())
	assert.Equal(t, KindTranscript, StageAnalysis.InputKind())
	assert.Equal(t, KindAnalysis, StageAnalysis.OutputKind())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusExtracting.Terminal())
	assert.False(t, StatusTranscribing.Terminal())
	assert.False(t, StatusAnalyzing.Terminal())
}

func TestArtifactKindValid(t *testing.T) {
	for _, k := range ArtifactKinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, ArtifactKind("video").Valid())
}
