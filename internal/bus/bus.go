package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Category identifies one host-facing event type.
type Category string

const (
	SessionState         Category = "session.state"
	SessionError         Category = "session.error"
	TranscriptPartial    Category = "transcript.partial"
	TranscriptLine       Category = "transcript.line"
	CoachingStarted      Category = "coaching.started"
	CoachingChunk        Category = "coaching.chunk"
	CoachingDone         Category = "coaching.done"
	CaptureStopRequested Category = "capture.stopRequested"
)

const categoryMetadataKey = "category"

// topic is the single bus topic. All producers publish here so the
// subscriber sees events in cross-producer arrival order; category
// fan-out happens on the consumer side, never by splitting topics.
const topic = "meeting.events"

// Event is one host-facing bus event. SessionID scopes every event to
// one meeting so a reconnecting host never applies stale-session data.
type Event struct {
	SessionID string          `json:"sessionId"`
	Category  Category        `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Bus is an in-process ordered pub/sub for host-facing events.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger zerolog.Logger
}

// New creates the event bus. Buffer bounds how many events queue
// before publishers block.
func New(buffer int64, logger zerolog.Logger) *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: buffer},
			watermill.NopLogger{},
		),
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Publish marshals the payload and publishes one event. Events from
// all producers land on the same topic, preserving arrival order.
func (b *Bus) Publish(sessionID string, category Category, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", category, err)
	}

	event := Event{
		SessionID: sessionID,
		Category:  category,
		Timestamp: time.Now(),
		Payload:   body,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", category, err)
	}

	msg := message.NewMessage(uuid.New().String(), raw)
	msg.Metadata.Set(categoryMetadataKey, string(category))
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", category, err)
	}
	return nil
}

// Subscribe returns all events in publish order. The channel closes
// when ctx is canceled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable bus event")
				msg.Ack()
				continue
			}
			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// SubscribeCategory returns only events of the given categories, in
// publish order.
func (b *Bus) SubscribeCategory(ctx context.Context, categories ...Category) (<-chan Event, error) {
	wanted := make(map[Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	all, err := b.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		for event := range all {
			if !wanted[event.Category] {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
