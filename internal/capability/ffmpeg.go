package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// commandResult captures one subprocess invocation.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpegExtractor extracts the audio track from an uploaded recording by
// shelling out to ffmpeg.
type FFmpegExtractor struct {
	ffmpegPath string
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	readFile   func(name string) ([]byte, error)
	writeFile  func(name string, data []byte, perm os.FileMode) error
}

// NewFFmpegExtractor builds an extractor using the ffmpeg binary at path.
func NewFFmpegExtractor(path string) *FFmpegExtractor {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegExtractor{
		ffmpegPath: path,
		runner:     execRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		readFile:   os.ReadFile,
		writeFile:  os.WriteFile,
	}
}

// stderr markers that mean the input itself is unusable, not the
// environment.
var permanentFFmpegMarkers = []string{
	"Invalid data found when processing input",
	"does not contain any stream",
	"Unknown format",
	"moov atom not found",
}

// Extract implements Extractor. The media bytes are staged to a temp dir,
// converted to mp3, and cleaned up regardless of outcome.
func (e *FFmpegExtractor) Extract(ctx context.Context, media []byte) ([]byte, error) {
	if len(media) == 0 {
		return nil, Permanentf("empty media input")
	}

	dir, err := e.mkdirTemp("", "extract-*")
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to create temp dir: %w", err))
	}
	defer func() { _ = e.removeAll(dir) }()

	inPath := filepath.Join(dir, "input.media")
	outPath := filepath.Join(dir, "audio.mp3")
	if err := e.writeFile(inPath, media, 0o600); err != nil {
		return nil, Transient(fmt.Errorf("failed to stage media: %w", err))
	}

	args := []string{
		"-y",
		"-i", inPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		outPath,
	}
	result, runErr := e.runner.Run(ctx, e.ffmpegPath, args...)
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, Transient(fmt.Errorf("ffmpeg interrupted: %w", ctx.Err()))
		}
		for _, marker := range permanentFFmpegMarkers {
			if strings.Contains(result.Stderr, marker) {
				return nil, Permanentf("ffmpeg rejected input (exit=%d): %s", result.ExitCode, marker)
			}
		}
		return nil, Transient(fmt.Errorf("ffmpeg failed (exit=%d): %w", result.ExitCode, runErr))
	}

	audio, err := e.readFile(outPath)
	if err != nil {
		return nil, Transient(fmt.Errorf("ffmpeg completed but output unreadable: %w", err))
	}
	if len(audio) == 0 {
		return nil, Permanentf("ffmpeg produced an empty audio file")
	}
	return audio, nil
}
