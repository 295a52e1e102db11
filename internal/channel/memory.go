package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/types"
)

// MemoryChannel is an in-process Channel. Events for the same session on
// the same topic are delivered one at a time in publish order; events for
// different sessions run concurrently. A handler error parks the event for
// RedeliveryDelay and redelivers, up to MaxDeliveries, after which the
// event is dropped and logged.
type MemoryChannel struct {
	mu        sync.Mutex
	handlers  map[Topic]Handler
	queues    map[partitionKey][]types.StageEvent
	pumping   map[partitionKey]bool
	closed    bool
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *logger.Logger
	delay     time.Duration
	maxDelive int
}

type partitionKey struct {
	topic   Topic
	session uuid.UUID
}

// MemoryOptions tunes redelivery behavior.
type MemoryOptions struct {
	// RedeliveryDelay is the pause before a failed delivery is retried.
	RedeliveryDelay time.Duration
	// MaxDeliveries bounds attempts per event; 0 means the default of 5.
	MaxDeliveries int
}

// NewMemoryChannel creates an in-process channel.
func NewMemoryChannel(log *logger.Logger, opts MemoryOptions) *MemoryChannel {
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryChannel{
		handlers:  make(map[Topic]Handler),
		queues:    make(map[partitionKey][]types.StageEvent),
		pumping:   make(map[partitionKey]bool),
		baseCtx:   ctx,
		cancel:    cancel,
		log:       log.WithComponent("channel"),
		delay:     opts.RedeliveryDelay,
		maxDelive: opts.MaxDeliveries,
	}
}

// Publish implements Channel.
func (c *MemoryChannel) Publish(_ context.Context, topic Topic, ev types.StageEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("channel closed")
	}
	key := partitionKey{topic: topic, session: ev.SessionID}
	c.queues[key] = append(c.queues[key], ev)
	c.maybePumpLocked(key)
	return nil
}

// Subscribe implements Channel. One handler per topic; subscribing again
// replaces the previous handler and resumes any parked partitions.
func (c *MemoryChannel) Subscribe(topic Topic, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = h
	for key := range c.queues {
		if key.topic == topic {
			c.maybePumpLocked(key)
		}
	}
}

// Close stops delivery and waits for in-flight handlers to return.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// maybePumpLocked starts a delivery goroutine for a partition that has
// queued events, a handler, and no pump running. Caller holds c.mu.
func (c *MemoryChannel) maybePumpLocked(key partitionKey) {
	if c.pumping[key] || len(c.queues[key]) == 0 {
		return
	}
	if _, ok := c.handlers[key.topic]; !ok {
		return
	}
	c.pumping[key] = true
	c.wg.Add(1)
	go c.pump(key)
}

// pump delivers one partition's events sequentially, preserving publish
// order per session.
func (c *MemoryChannel) pump(key partitionKey) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		queue := c.queues[key]
		if len(queue) == 0 || c.closed {
			c.pumping[key] = false
			c.mu.Unlock()
			return
		}
		ev := queue[0]
		c.queues[key] = queue[1:]
		h := c.handlers[key.topic]
		c.mu.Unlock()

		c.deliver(key, h, ev)
	}
}

// deliver invokes the handler, redelivering on error until the delivery
// budget is spent.
func (c *MemoryChannel) deliver(key partitionKey, h Handler, ev types.StageEvent) {
	for delivery := 1; ; delivery++ {
		err := h(c.baseCtx, ev)
		if err == nil {
			return
		}
		entry := c.log.WithSession(ev.SessionID).
			WithField("topic", string(key.topic)).
			WithField("stage", string(ev.Stage)).
			WithField("delivery", delivery)
		if delivery >= c.maxDelive {
			entry.WithField("error", err.Error()).Error("delivery budget spent, dropping event")
			return
		}
		entry.WithField("error", err.Error()).Warn("handler failed, will redeliver")

		select {
		case <-c.baseCtx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}
