package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coursehub/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventChannelCommand EventType = "channel.command"
	EventCourseNotice   EventType = "course.notice"
)

const defaultChannel = "coursehub:channel-commands"

// Event is one message on the shared bus.
type Event struct {
	Type       EventType              `json:"type"`
	InstanceID string                 `json:"instance_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Command    *domain.ChannelCommand `json:"command,omitempty"`
	CourseID   domain.CourseID        `json:"course_id,omitempty"`
	Notice     *domain.AuditEvent     `json:"notice,omitempty"`
}

// CommandBus relays channel commands and course notices between instances
// over redis pub/sub. Each instance applies what it receives to its own live
// connections; events published by this instance are skipped on receipt.
type CommandBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewCommandBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *CommandBus {
	return &CommandBus{
		client:     client,
		instanceID: instanceID,
		channel:    defaultChannel,
		logger:     logger,
	}
}

func (b *CommandBus) InstanceID() string {
	return b.instanceID
}

// Publish stamps event with this instance and publishes it.
func (b *CommandBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = b.instanceID
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("published event",
		"type", event.Type,
		"course_id", event.CourseID,
	)
	return nil
}

func (b *CommandBus) PublishCommand(ctx context.Context, cmd domain.ChannelCommand) error {
	return b.Publish(ctx, &Event{
		Type:     EventChannelCommand,
		Command:  &cmd,
		CourseID: domain.CourseID(cmd.Channel),
	})
}

func (b *CommandBus) PublishNotice(ctx context.Context, courseID domain.CourseID, notice *domain.AuditEvent) error {
	return b.Publish(ctx, &Event{
		Type:     EventCourseNotice,
		CourseID: courseID,
		Notice:   notice,
	})
}

// Subscribe blocks delivering remote events to handler until ctx is done.
func (b *CommandBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	b.mu.Lock()
	if b.pubsub != nil {
		b.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	pubsub := b.pubsub
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		_ = pubsub.Close()
		b.pubsub = nil
		b.mu.Unlock()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(msg.Payload, handler)
		}
	}
}

func (b *CommandBus) dispatch(payload string, handler func(*Event) error) {
	event, err := b.decode(payload)
	if err != nil {
		b.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}
	if event == nil {
		return
	}
	if err := handler(event); err != nil {
		b.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

// decode returns nil for events this instance published itself.
func (b *CommandBus) decode(payload string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.InstanceID == b.instanceID {
		return nil, nil
	}
	switch event.Type {
	case EventChannelCommand:
		if event.Command == nil {
			return nil, fmt.Errorf("channel command event without command")
		}
	case EventCourseNotice:
		if event.CourseID == "" {
			return nil, fmt.Errorf("course notice without course id")
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
	return &event, nil
}

// Close closes the event bus
func (b *CommandBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
