package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAnalysis = `{
  "roles": {"Speaker A": "Therapist", "Speaker B": "Patient"},
  "emotional_profile": [
    {"phase": "Start", "emotion": "Anxious"},
    {"phase": "Early-Mid", "emotion": "Sad"},
    {"phase": "Late-Mid", "emotion": "Neutral"},
    {"phase": "End", "emotion": "Hopeful"}
  ],
  "key_interventions": [
    {"trigger_topic": "Family", "patient_reaction": "Negative", "insight": "Patient became defensive."}
  ],
  "analysis": [
    {"speaker": "Speaker B", "text": "My mom makes me happy", "topic": "Family", "emotion": "Happy"}
  ]
}`

func TestAnalysisSchema_IsValidJSON(t *testing.T) {
	var v interface{}
	require.NoError(t, json.Unmarshal(analysisSchema, &v))
}

func TestValidateAnalysis_Valid(t *testing.T) {
	assert.NoError(t, ValidateAnalysis([]byte(validAnalysis)))
}

func TestValidateAnalysis_MissingSection(t *testing.T) {
	err := ValidateAnalysis([]byte(`{"roles": {"Speaker A": "Therapist"}}`))
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}

func TestValidateAnalysis_BadRole(t *testing.T) {
	doc := `{
	  "roles": {"Speaker A": "Moderator"},
	  "emotional_profile": [],
	  "key_interventions": [],
	  "analysis": []
	}`
	err := ValidateAnalysis([]byte(doc))
	require.Error(t, err)

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestValidateAnalysis_BadPhase(t *testing.T) {
	doc := `{
	  "roles": {},
	  "emotional_profile": [{"phase": "Middle", "emotion": "Sad"}],
	  "key_interventions": [],
	  "analysis": []
	}`
	assert.Error(t, ValidateAnalysis([]byte(doc)))
}
