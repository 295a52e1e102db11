package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/capability"
	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/ledger"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/orchestrator"
	"github.com/mkramer/session-insights/internal/types"
)

type fakeExtractor struct{ fail int32 }

func (f *fakeExtractor) Extract(_ context.Context, media []byte) ([]byte, error) {
	if atomic.AddInt32(&f.fail, -1) >= 0 {
		return nil, capability.Transientf("codec hiccup")
	}
	return append([]byte("audio:"), media...), nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "Speaker A: How was your week?\nSpeaker B: Hard, honestly.", nil
}

type fakeAnalyzer struct{ err error }

func (f fakeAnalyzer) Analyze(_ context.Context, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{"roles":{}}`), nil
}

type pipeline struct {
	led   *ledger.MemoryLedger
	store *artifact.MemoryStore
	ch    *channel.MemoryChannel
	orch  *orchestrator.Orchestrator
}

func startPipeline(t *testing.T, ext capability.Extractor, tr capability.Transcriber, an capability.Analyzer) *pipeline {
	t.Helper()
	log := logger.New()
	led := ledger.NewMemoryLedger()
	store := artifact.NewMemoryStore()
	ch := channel.NewMemoryChannel(log, channel.MemoryOptions{RedeliveryDelay: time.Millisecond})
	t.Cleanup(ch.Close)

	orch := orchestrator.New(led, ch, log, orchestrator.Options{
		RetryLimit:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	})
	orch.Start()

	NewWorkers(Deps{
		Store:        store,
		Channel:      ch,
		Log:          log,
		Extractor:    ext,
		Transcriber:  tr,
		Analyzer:     an,
		StageTimeout: time.Second,
		PoolSize:     2,
	}).Start()

	return &pipeline{led: led, store: store, ch: ch, orch: orch}
}

func (p *pipeline) submit(t *testing.T, media []byte) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ref, err := p.store.Put(context.Background(), id, types.KindRaw, media)
	require.NoError(t, err)
	_, err = p.orch.Submit(context.Background(), id, ref)
	require.NoError(t, err)
	return id
}

func (p *pipeline) waitTerminal(t *testing.T, id uuid.UUID) *types.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := p.led.Get(context.Background(), id)
		require.NoError(t, err)
		if sess.Status.Terminal() {
			return sess
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := startPipeline(t, &fakeExtractor{}, fakeTranscriber{}, fakeAnalyzer{})
	id := p.submit(t, []byte("recording bytes"))

	sess := p.waitTerminal(t, id)
	assert.Equal(t, types.StatusComplete, sess.Status)
	assert.Nil(t, sess.LastError)
	require.Len(t, sess.ArtifactRefs, 4)

	analysis, err := p.store.Get(context.Background(), sess.ArtifactRefs[types.KindAnalysis])
	require.NoError(t, err)
	assert.JSONEq(t, `{"roles":{}}`, string(analysis))

	transcript, err := p.store.Get(context.Background(), sess.ArtifactRefs[types.KindTranscript])
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "Speaker A")
}

func TestPipeline_TransientFailureRecoversWithinBudget(t *testing.T) {
	p := startPipeline(t, &fakeExtractor{fail: 2}, fakeTranscriber{}, fakeAnalyzer{})
	id := p.submit(t, []byte("recording bytes"))

	sess := p.waitTerminal(t, id)
	assert.Equal(t, types.StatusComplete, sess.Status, "two transient failures fit a budget of three attempts")
}

func TestPipeline_PermanentFailureFailsSession(t *testing.T) {
	p := startPipeline(t, &fakeExtractor{}, fakeTranscriber{}, fakeAnalyzer{err: capability.Permanentf("transcript rejected")})
	id := p.submit(t, []byte("recording bytes"))

	sess := p.waitTerminal(t, id)
	assert.Equal(t, types.StatusFailed, sess.Status)
	require.NotNil(t, sess.LastError)
	assert.Equal(t, types.FailurePermanent, sess.LastError.Kind)
	assert.Contains(t, sess.LastError.Message, "transcript rejected")

	// upstream artifacts survive the failure
	assert.NotEmpty(t, sess.ArtifactRefs[types.KindAudio])
	assert.NotEmpty(t, sess.ArtifactRefs[types.KindTranscript])
}

func TestPipeline_ExhaustedBudgetFailsSession(t *testing.T) {
	p := startPipeline(t, &fakeExtractor{fail: 100}, fakeTranscriber{}, fakeAnalyzer{})
	id := p.submit(t, []byte("recording bytes"))

	sess := p.waitTerminal(t, id)
	assert.Equal(t, types.StatusFailed, sess.Status)
	require.NotNil(t, sess.LastError)
	assert.Equal(t, types.FailureExhausted, sess.LastError.Kind)
}
