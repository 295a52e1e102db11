// Package worker runs stage capabilities against the channel. A harness
// consumes REQUEST events for one stage, runs the capability with a
// timeout, stores the output artifact, and publishes the outcome. Handlers
// are idempotent: an already-written output slot turns a redelivered
// request into a SUCCESS without re-running the capability.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/capability"
	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/types"
)

// StageFunc runs one stage's capability on the input artifact bytes and
// returns the output artifact bytes.
type StageFunc func(ctx context.Context, input []byte) ([]byte, error)

// Harness consumes one stage's request topic.
type Harness struct {
	stage        types.Stage
	run          StageFunc
	store        artifact.Store
	ch           channel.Channel
	log          *logger.Logger
	stageTimeout time.Duration

	// sem bounds how many capability runs execute at once across sessions.
	sem *semaphore.Weighted

	// per-session serialization so a redelivery cannot race the original
	// delivery of the same request; entries are refcounted and evicted
	// once uncontended so the map does not grow with session history
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewHarness builds a stage harness with poolSize concurrent capability
// slots. Call Start to begin consuming.
func NewHarness(stage types.Stage, run StageFunc, store artifact.Store, ch channel.Channel, log *logger.Logger, stageTimeout time.Duration, poolSize int) *Harness {
	if stageTimeout <= 0 {
		stageTimeout = 5 * time.Minute
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Harness{
		stage:        stage,
		run:          run,
		store:        store,
		ch:           ch,
		log:          log.WithComponent(string(stage) + "-worker"),
		stageTimeout: stageTimeout,
		sem:          semaphore.NewWeighted(int64(poolSize)),
		locks:        make(map[uuid.UUID]*sessionLock),
	}
}

// Start subscribes the harness to its stage's request topic.
func (h *Harness) Start() {
	h.ch.Subscribe(channel.RequestTopic(h.stage), h.Handle)
}

// Handle processes one REQUEST event. A nil return acknowledges the
// delivery; only outcome-publish failures propagate so the channel
// redelivers — every capability failure becomes a FAILURE event instead.
func (h *Harness) Handle(ctx context.Context, ev types.StageEvent) error {
	if ev.Type != types.EventRequest || ev.Stage != h.stage {
		h.log.WithSession(ev.SessionID).
			WithField("event_type", ev.Type).
			WithField("stage", ev.Stage).
			Warn("unexpected event on request topic, dropped")
		return nil
	}

	lock := h.acquireSession(ev.SessionID)
	defer h.releaseSession(ev.SessionID, lock)

	log := h.log.WithSession(ev.SessionID).WithField("attempt", ev.Attempt)

	// Idempotency: a prior delivery already produced the output.
	if ref, err := h.store.Ref(ctx, ev.SessionID, h.stage.OutputKind()); err == nil {
		log.WithField("output_ref", ref).Debug("output already stored, re-emitting success")
		return h.publishOutcome(ctx, types.Success(ev, ref))
	}

	input, err := h.store.Get(ctx, ev.InputRef)
	if err != nil {
		// A missing input artifact cannot heal on retry.
		log.WithError(err).Warn("input artifact unavailable")
		fail := types.Failure(ev, types.FailurePermanent, fmt.Sprintf("input artifact %s unavailable: %v", ev.InputRef, err), true)
		return h.publishOutcome(ctx, fail)
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire worker slot: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, h.stageTimeout)
	output, err := h.run(runCtx, input)
	cancel()
	h.sem.Release(1)
	if err != nil {
		kind := classify(err, runCtx)
		log.WithError(err).WithField("kind", kind).Warn("stage capability failed")
		fail := types.Failure(ev, kind, err.Error(), kind == types.FailurePermanent)
		return h.publishOutcome(ctx, fail)
	}

	ref, err := h.store.Put(ctx, ev.SessionID, h.stage.OutputKind(), output)
	if errors.Is(err, types.ErrConflict) {
		// Another delivery won the write with different bytes. The stored
		// artifact is authoritative; this run's output is discarded.
		existing, refErr := h.store.Ref(ctx, ev.SessionID, h.stage.OutputKind())
		if refErr != nil {
			return fmt.Errorf("artifact conflict but no stored reference: %w", refErr)
		}
		log.WithField("output_ref", existing).Info("output slot already written, adopting stored artifact")
		return h.publishOutcome(ctx, types.Success(ev, existing))
	}
	if err != nil {
		return fmt.Errorf("failed to store %s output: %w", h.stage, err)
	}

	log.WithField("output_ref", ref).Info("stage succeeded")
	return h.publishOutcome(ctx, types.Success(ev, ref))
}

func (h *Harness) publishOutcome(ctx context.Context, ev types.StageEvent) error {
	if err := h.ch.Publish(ctx, channel.OutcomeTopic, ev); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	return nil
}

func (h *Harness) acquireSession(id uuid.UUID) *sessionLock {
	h.mu.Lock()
	lock, ok := h.locks[id]
	if !ok {
		lock = &sessionLock{}
		h.locks[id] = lock
	}
	lock.refs++
	h.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (h *Harness) releaseSession(id uuid.UUID, lock *sessionLock) {
	lock.mu.Unlock()

	h.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(h.locks, id)
	}
	h.mu.Unlock()
}

// classify maps a capability error onto the failure taxonomy. A run that
// hit the stage timeout is always transient regardless of how the provider
// surfaced the cancellation.
func classify(err error, runCtx context.Context) types.FailureKind {
	if runCtx.Err() != nil {
		return types.FailureTransient
	}
	return capability.Classify(err)
}
