package discovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
)

// TopicDiscoveryCompleted carries one event per finished fresh discovery.
// Workflow consumers (sequencers, segment updaters) subscribe to it.
const TopicDiscoveryCompleted = "discovery.completed"

// CompletedEvent is the published payload.
type CompletedEvent struct {
	Target     model.Target     `json:"target"`
	CaptureID  string           `json:"capture_id"`
	Signals    []SignalSummary  `json:"signals"`
	Score      *model.LeadScore `json:"score,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SignalSummary is the trimmed signal form carried on the bus; consumers
// needing source text read the signal store.
type SignalSummary struct {
	SignalID   string           `json:"signal_id"`
	Label      string           `json:"label"`
	Confidence int              `json:"confidence"`
	Action     model.RuleAction `json:"action,omitempty"`
}

// EventBus wraps an in-process pub/sub channel. Event publication is
// auxiliary: a publish failure is logged, never surfaced to the caller.
type EventBus struct {
	pubSub *gochannel.GoChannel
}

// NewEventBus creates an in-process event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// PublishCompleted emits a discovery.completed event.
func (b *EventBus) PublishCompleted(evt CompletedEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		zap.L().Warn("discovery: marshal completed event", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(TopicDiscoveryCompleted, msg); err != nil {
		zap.L().Warn("discovery: publish completed event", zap.Error(err))
	}
}

// Subscribe returns the message channel for a topic.
func (b *EventBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// Close shuts the bus down; pending subscribers see closed channels.
func (b *EventBus) Close() error {
	return b.pubSub.Close()
}
