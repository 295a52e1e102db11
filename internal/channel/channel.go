// Package channel carries stage events between the orchestrator and the
// stage workers. Delivery is at-least-once with ordering guaranteed only
// within one session's partition; handlers must be idempotent.
package channel

import (
	"context"

	"github.com/mkramer/session-insights/internal/types"
)

// Topic names one queue on the channel.
type Topic string

// OutcomeTopic carries SUCCESS and FAILURE events back to the orchestrator.
const OutcomeTopic Topic = "stage.outcomes"

// RequestTopic returns the queue a stage's workers consume REQUEST events
// from.
func RequestTopic(stage types.Stage) Topic {
	return Topic("stage." + string(stage) + ".requests")
}

// Handler consumes one delivered event. Returning nil acknowledges the
// delivery; returning an error leaves the event eligible for redelivery
// after the visibility timeout.
type Handler func(ctx context.Context, ev types.StageEvent) error

// Channel is the message broker seam. The in-memory implementation backs
// tests and single-process deployments; a broker-backed adapter implements
// the same contract.
type Channel interface {
	Publish(ctx context.Context, topic Topic, ev types.StageEvent) error
	Subscribe(topic Topic, h Handler)
}
