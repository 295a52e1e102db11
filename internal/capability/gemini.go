package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mkramer/session-insights/schemas"
)

// maxUtteranceChars bounds a single transcript line in the prompt.
const maxUtteranceChars = 500

const analysisPrompt = `You are an expert Clinical Psychologist AI. Analyze a therapy session transcript line-by-line to extract clinical insights.

STRICT INSTRUCTIONS:

1. IDENTIFY ROLES: determine from speech patterns who is the 'Therapist' (asks questions, guides) and who is the 'Patient' (shares feelings, answers).

2. EMOTIONAL ARC: divide the session into 4 chronological quarters (Start, Early-Mid, Late-Mid, End) and identify the DOMINANT emotion of the PATIENT in each quarter.

3. KEY INTERVENTIONS: identify exactly 3 moments where the Therapist said something that caused a significant reaction.
- trigger_topic: what the therapist asked about
- patient_reaction: "Positive" (opened up) or "Negative" (shut down / defensive)
- insight: a short clinical note on why

4. GRANULAR ANALYSIS: for every utterance assign a 'Topic' and an 'Emotion'.
- Topics: [Family, Work, Relationships, Anxiety, Depression, Self-Esteem, Trauma, Medication, Daily Routine, Sleep]
- Emotions: [Happy, Sad, Angry, Anxious, Neutral, Hopeful, Frustrated, Confused, Guilt, Shame]

5. OUTPUT: return ONLY valid JSON with keys "roles", "emotional_profile", "key_interventions", "analysis" matching the structures above.`

// GeminiAnalyzer implements Analyzer on Google Gemini.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

// NewGeminiAnalyzer creates the analysis adapter. model empty selects a
// default suitable for structured extraction.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

// Analyze implements Analyzer. The returned bytes are the analysis JSON,
// already validated against the analysis schema; schema-invalid model
// output is a transient failure because a retry usually produces a
// conforming document.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, transcript string) ([]byte, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, Permanentf("empty transcript input")
	}

	model := a.client.GenerativeModel(a.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	prompt := BuildAnalysisPrompt(transcript)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, classifyGenAIError(err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, Transient(err)
	}
	doc := []byte(cleanJSONBlock(text))

	if err := schemas.ValidateAnalysis(doc); err != nil {
		return nil, Transient(fmt.Errorf("model output failed schema validation: %w", err))
	}
	return doc, nil
}

// Close releases the underlying client.
func (a *GeminiAnalyzer) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// BuildAnalysisPrompt assembles the analysis prompt, truncating very long
// utterance lines.
func BuildAnalysisPrompt(transcript string) string {
	var sb strings.Builder
	sb.WriteString(analysisPrompt)
	sb.WriteString("\n\nHere is the session transcript:\n\n")
	for _, line := range strings.Split(transcript, "\n") {
		if len(line) > maxUtteranceChars {
			line = line[:maxUtteranceChars]
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// classifyGenAIError maps provider errors onto the failure taxonomy:
// rejected requests (auth, malformed, safety) are permanent, everything
// else is retryable.
func classifyGenAIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return Transient(fmt.Errorf("analysis provider rate limited: %w", err))
		}
		if apiErr.Code >= 400 && apiErr.Code < 500 {
			return Permanent(fmt.Errorf("analysis request rejected: %w", err))
		}
	}
	return Transient(fmt.Errorf("analysis request failed: %w", err))
}

// extractTextFromResponse pulls the text parts out of a Gemini response.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock strips markdown code fences some models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
