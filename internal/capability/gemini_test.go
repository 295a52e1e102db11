package capability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAnalysisPrompt_TruncatesLongUtterances(t *testing.T) {
	long := "Speaker B: " + strings.Repeat("x", 2000)
	prompt := BuildAnalysisPrompt("Speaker A: Hello\n" + long)

	assert.Contains(t, prompt, "Speaker A: Hello")
	for _, line := range strings.Split(prompt, "\n") {
		assert.LessOrEqual(t, len(line), maxUtteranceChars)
	}
}

func TestBuildAnalysisPrompt_IncludesInstructions(t *testing.T) {
	prompt := BuildAnalysisPrompt("Speaker A: Hello")
	assert.Contains(t, prompt, "IDENTIFY ROLES")
	assert.Contains(t, prompt, "EMOTIONAL ARC")
	assert.Contains(t, prompt, "KEY INTERVENTIONS")
	assert.Contains(t, prompt, "session transcript")
}

func TestCleanJSONBlock(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                     "{\"a\":1}",
		"```json\n{\"a\":1}\n```":       "{\"a\":1}",
		"```\n{\"a\":1}\n```":           "{\"a\":1}",
		"  \n```json\n{\"a\":1}\n```  ": "{\"a\":1}",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanJSONBlock(in))
	}
}
