// Package orchestrator owns every session state transition. It consumes
// stage outcomes from the channel, advances or fails sessions through
// ledger compare-and-set, and publishes the next stage request. Workers
// never write session status; all lifecycle authority lives here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/ledger"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/types"
)

// Options tunes retry behavior. Zero values fall back to defaults.
type Options struct {
	// RetryLimit is the total number of attempts a stage gets; attempt
	// numbers run 0..RetryLimit-1, and the failure that would push the
	// counter to RetryLimit exhausts the session instead.
	RetryLimit int
	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration
	// BackoffMax caps the exponential delay growth.
	BackoffMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	return o
}

// Orchestrator drives sessions through the pipeline.
type Orchestrator struct {
	ledger ledger.Ledger
	ch     channel.Channel
	log    *logger.Logger
	opts   Options

	// seams for deterministic tests
	retryDelay   func(attempt int) time.Duration
	schedule     func(d time.Duration, f func())
	infraBackoff func(ctx context.Context) backoff.BackOff
}

// New builds an orchestrator. Call Start to begin consuming outcomes.
func New(led ledger.Ledger, ch channel.Channel, log *logger.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		ledger: led,
		ch:     ch,
		log:    log.WithComponent("orchestrator"),
		opts:   opts.withDefaults(),
	}
	o.retryDelay = o.jitteredBackoff
	o.schedule = func(d time.Duration, f func()) {
		time.AfterFunc(d, f)
	}
	o.infraBackoff = func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	}
	return o
}

// Start subscribes the orchestrator to the outcome topic.
func (o *Orchestrator) Start() {
	o.ch.Subscribe(channel.OutcomeTopic, o.HandleOutcome)
}

// Submit registers a new session whose raw recording is already stored at
// rawRef, moves it into extraction, and publishes the first stage request.
func (o *Orchestrator) Submit(ctx context.Context, sessionID uuid.UUID, rawRef string) (*types.Session, error) {
	if _, err := o.ledger.Create(ctx, sessionID, rawRef); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	upd := ledger.Update{Status: types.StatusExtracting, Attempt: 0}
	if err := o.casWithRetry(ctx, sessionID, types.StatusPending, 0, upd); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	req := types.Request(sessionID, types.StageExtraction, 0, rawRef)
	if err := o.ch.Publish(ctx, channel.RequestTopic(types.StageExtraction), req); err != nil {
		return nil, fmt.Errorf("failed to publish extraction request: %w", err)
	}

	o.log.WithSession(sessionID).Info("session submitted")
	return o.ledger.Get(ctx, sessionID)
}

// Cancel aborts a session that has not reached a terminal state. Stage
// outcomes still in flight lose the compare-and-set race and are dropped.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) error {
	sess, err := o.ledger.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session already %s: %w", sess.Status, types.ErrConflict)
	}
	if reason == "" {
		reason = "cancelled by operator"
	}

	upd := ledger.Update{
		Status:    types.StatusFailed,
		Attempt:   sess.StageAttempt,
		LastError: &types.StageError{Kind: types.FailureCancelled, Message: reason},
	}
	if err := o.casWithRetry(ctx, sessionID, sess.Status, sess.StageAttempt, upd); err != nil {
		return err
	}
	o.log.WithSession(sessionID).WithField("reason", reason).Info("session cancelled")
	return nil
}

// HandleOutcome processes one SUCCESS or FAILURE event. Stale and duplicate
// events are acknowledged without effect: the attempt guard and the ledger
// compare-and-set both have to agree before anything changes.
func (o *Orchestrator) HandleOutcome(ctx context.Context, ev types.StageEvent) error {
	log := o.log.WithSession(ev.SessionID).WithField("stage", ev.Stage).WithField("attempt", ev.Attempt)

	sess, err := o.ledger.Get(ctx, ev.SessionID)
	if errors.Is(err, types.ErrNotFound) {
		log.Warn("outcome for unknown session dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	// Attempt guard: the event only counts if the session is still waiting
	// on exactly this stage attempt. Anything else is a late duplicate or
	// an outcome that raced a cancel.
	if sess.Status != ev.Stage.Status() || sess.StageAttempt != ev.Attempt {
		log.WithField("status", sess.Status).Debug("stale outcome dropped")
		return nil
	}

	switch ev.Type {
	case types.EventSuccess:
		return o.advance(ctx, ev)
	case types.EventFailure:
		return o.retryOrFail(ctx, sess, ev)
	default:
		log.WithField("event_type", ev.Type).Warn("unexpected event type on outcome topic")
		return nil
	}
}

// advance records the stage output and moves the session to the next stage,
// or to COMPLETE after the final one.
func (o *Orchestrator) advance(ctx context.Context, ev types.StageEvent) error {
	log := o.log.WithSession(ev.SessionID).WithField("stage", ev.Stage)

	next, hasNext := ev.Stage.Next()
	upd := ledger.Update{
		Status:       types.StatusComplete,
		Attempt:      0,
		ArtifactKind: ev.Stage.OutputKind(),
		ArtifactRef:  ev.OutputRef,
	}
	if hasNext {
		upd.Status = next.Status()
	}

	err := o.casWithRetry(ctx, ev.SessionID, ev.Stage.Status(), ev.Attempt, upd)
	if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
		log.Debug("success outcome lost the transition race, dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to advance session: %w", err)
	}

	if !hasNext {
		log.Info("session complete")
		return nil
	}

	req := types.Request(ev.SessionID, next, 0, ev.OutputRef)
	if err := o.ch.Publish(ctx, channel.RequestTopic(next), req); err != nil {
		return fmt.Errorf("failed to publish %s request: %w", next, err)
	}
	log.WithField("next_stage", next).Info("stage complete, session advanced")
	return nil
}

// retryOrFail applies the failure policy: permanent errors fail the session
// immediately, transient errors retry with backoff until the budget is
// spent, and a spent budget fails the session as exhausted.
func (o *Orchestrator) retryOrFail(ctx context.Context, sess *types.Session, ev types.StageEvent) error {
	log := o.log.WithSession(ev.SessionID).WithField("stage", ev.Stage).WithField("attempt", ev.Attempt)

	stageErr := ev.Error
	if stageErr == nil {
		stageErr = &types.StageError{Kind: types.FailureTransient, Message: "stage failed without detail"}
	}

	if ev.Permanent {
		log.WithField("error", stageErr.Message).Warn("permanent stage failure, failing session")
		return o.failSession(ctx, ev, stageErr)
	}
	if ev.Attempt+1 >= o.opts.RetryLimit {
		log.WithField("error", stageErr.Message).Warn("retry budget exhausted, failing session")
		exhausted := &types.StageError{
			Kind:    types.FailureExhausted,
			Message: fmt.Sprintf("%s failed after %d attempts: %s", ev.Stage, ev.Attempt+1, stageErr.Message),
		}
		return o.failSession(ctx, ev, exhausted)
	}

	nextAttempt := ev.Attempt + 1
	upd := ledger.Update{
		Status:    ev.Stage.Status(),
		Attempt:   nextAttempt,
		LastError: stageErr,
	}
	err := o.casWithRetry(ctx, ev.SessionID, ev.Stage.Status(), ev.Attempt, upd)
	if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
		log.Debug("failure outcome lost the transition race, dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}

	inputRef := sess.ArtifactRefs[ev.Stage.InputKind()]
	delay := o.retryDelay(nextAttempt)
	log.WithField("retry_in", delay.String()).Info("transient stage failure, retry scheduled")

	stage := ev.Stage
	sessionID := ev.SessionID
	o.schedule(delay, func() {
		// the attempt counter is already bumped in the ledger, so losing
		// this request would strand the session mid-retry
		req := types.Request(sessionID, stage, nextAttempt, inputRef)
		if err := o.publishWithRetry(context.Background(), channel.RequestTopic(stage), req); err != nil {
			o.log.WithSession(sessionID).WithError(err).Error("failed to publish retry request")
		}
	})
	return nil
}

func (o *Orchestrator) failSession(ctx context.Context, ev types.StageEvent, stageErr *types.StageError) error {
	upd := ledger.Update{
		Status:    types.StatusFailed,
		Attempt:   ev.Attempt,
		LastError: stageErr,
	}
	err := o.casWithRetry(ctx, ev.SessionID, ev.Stage.Status(), ev.Attempt, upd)
	if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fail session: %w", err)
	}
	return nil
}

// casWithRetry retries a compare-and-set against transient ledger errors.
// Conflict and not-found are decisions, not faults, and pass through
// immediately.
func (o *Orchestrator) casWithRetry(ctx context.Context, sessionID uuid.UUID, expectedStatus types.Status, expectedAttempt int, upd ledger.Update) error {
	op := func() error {
		err := o.ledger.CompareAndSetStatus(ctx, sessionID, expectedStatus, expectedAttempt, upd)
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, o.infraBackoff(ctx))
}

// publishWithRetry retries a publish against transient channel failures.
func (o *Orchestrator) publishWithRetry(ctx context.Context, topic channel.Topic, ev types.StageEvent) error {
	op := func() error {
		return o.ch.Publish(ctx, topic, ev)
	}
	return backoff.Retry(op, o.infraBackoff(ctx))
}

// jitteredBackoff doubles the initial delay per attempt, caps it, and adds
// jitter so concurrent retries spread out.
func (o *Orchestrator) jitteredBackoff(attempt int) time.Duration {
	d := o.opts.BackoffInitial
	for i := 1; i < attempt && d < o.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > o.opts.BackoffMax {
		d = o.opts.BackoffMax
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half+1))
}
