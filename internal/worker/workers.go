package worker

import (
	"context"
	"time"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/capability"
	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/types"
)

// Deps collects everything the stage workers share.
type Deps struct {
	Store   artifact.Store
	Channel channel.Channel
	Log     *logger.Logger

	Extractor   capability.Extractor
	Transcriber capability.Transcriber
	Analyzer    capability.Analyzer

	StageTimeout time.Duration
	PoolSize     int
}

// Workers bundles the three stage harnesses.
type Workers struct {
	extraction    *Harness
	transcription *Harness
	analysis      *Harness
}

// NewWorkers binds each capability to its stage harness.
func NewWorkers(d Deps) *Workers {
	extract := func(ctx context.Context, input []byte) ([]byte, error) {
		return d.Extractor.Extract(ctx, input)
	}
	transcribe := func(ctx context.Context, input []byte) ([]byte, error) {
		text, err := d.Transcriber.Transcribe(ctx, input)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	analyze := func(ctx context.Context, input []byte) ([]byte, error) {
		return d.Analyzer.Analyze(ctx, string(input))
	}

	return &Workers{
		extraction:    NewHarness(types.StageExtraction, extract, d.Store, d.Channel, d.Log, d.StageTimeout, d.PoolSize),
		transcription: NewHarness(types.StageTranscription, transcribe, d.Store, d.Channel, d.Log, d.StageTimeout, d.PoolSize),
		analysis:      NewHarness(types.StageAnalysis, analyze, d.Store, d.Channel, d.Log, d.StageTimeout, d.PoolSize),
	}
}

// Start subscribes every harness to its request topic.
func (w *Workers) Start() {
	w.extraction.Start()
	w.transcription.Start()
	w.analysis.Start()
}
