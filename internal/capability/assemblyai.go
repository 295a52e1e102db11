package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AssemblyAIClient implements Transcriber against the AssemblyAI v2 API:
// upload the audio, create a transcript job, poll until it settles.
type AssemblyAIClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollMax      time.Duration
}

// NewAssemblyAIClient builds a transcriber. baseURL empty uses the public
// API endpoint.
func NewAssemblyAIClient(baseURL, apiKey string) *AssemblyAIClient {
	if baseURL == "" {
		baseURL = "https://api.assemblyai.com"
	}
	return &AssemblyAIClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 5 * time.Second,
		pollMax:      15 * time.Minute,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type transcriptResponse struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"` // queued, processing, completed, error
	Text       string      `json:"text"`
	Error      string      `json:"error"`
	Utterances []utterance `json:"utterances"`
}

// Transcribe implements Transcriber. The returned transcript is
// speaker-labeled, one utterance per line, so the analyzer can attribute
// dialogue.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.apiKey == "" {
		return "", Permanentf("transcription provider API key not configured")
	}
	if len(audio) == 0 {
		return "", Permanentf("empty audio input")
	}

	audioURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", err
	}

	jobID, err := c.createTranscript(ctx, audioURL)
	if err != nil {
		return "", err
	}

	return c.pollUntilDone(ctx, jobID)
}

func (c *AssemblyAIClient) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", Transient(fmt.Errorf("failed to build upload request: %w", err))
	}
	req.Header.Set("authorization", c.apiKey)
	req.Header.Set("content-type", "application/octet-stream")

	var out uploadResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", Transientf("upload response missing upload_url")
	}
	return out.UploadURL, nil
}

func (c *AssemblyAIClient) createTranscript(ctx context.Context, audioURL string) (string, error) {
	body, _ := json.Marshal(transcriptRequest{AudioURL: audioURL, SpeakerLabels: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", Transient(fmt.Errorf("failed to build transcript request: %w", err))
	}
	req.Header.Set("authorization", c.apiKey)
	req.Header.Set("content-type", "application/json")

	var out transcriptResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", Transientf("transcript response missing id")
	}
	return out.ID, nil
}

// pollUntilDone polls the transcript job until it completes or errors.
func (c *AssemblyAIClient) pollUntilDone(ctx context.Context, jobID string) (string, error) {
	var transcript string

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+jobID, nil)
		if err != nil {
			return backoff.Permanent(Transient(err))
		}
		req.Header.Set("authorization", c.apiKey)

		var out transcriptResponse
		if err := c.doJSON(req, &out); err != nil {
			if IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		switch out.Status {
		case "completed":
			transcript = formatTranscript(out)
			return nil
		case "error":
			// the provider inspected the audio and gave up
			return backoff.Permanent(Permanentf("transcription failed: %s", out.Error))
		default:
			return Transientf("transcript %s still %s", jobID, out.Status)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval
	bo.MaxInterval = c.pollInterval * 4
	bo.MaxElapsedTime = c.pollMax

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return "", err
		}
		return "", Transient(err)
	}
	return transcript, nil
}

// doJSON executes a request and decodes the JSON body, classifying HTTP
// failures: 429 and 5xx are retryable, other 4xx are not.
func (c *AssemblyAIClient) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("transcription request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(fmt.Errorf("failed to read transcription response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Transientf("transcription provider rate limited")
	case resp.StatusCode >= 500:
		return Transientf("transcription provider error (status=%d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Permanentf("transcription request rejected (status=%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return Transient(fmt.Errorf("malformed transcription response: %w", err))
	}
	return nil
}

// formatTranscript renders utterances one per line with speaker labels,
// falling back to the flat text when the provider returned none.
func formatTranscript(resp transcriptResponse) string {
	if len(resp.Utterances) == 0 {
		return resp.Text
	}
	var sb strings.Builder
	for _, u := range resp.Utterances {
		sb.WriteString("Speaker ")
		sb.WriteString(u.Speaker)
		sb.WriteString(": ")
		sb.WriteString(u.Text)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
