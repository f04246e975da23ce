package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/taskctl/remotetask/internal/logger"
)

const (
	channelPrefix = "remotetask:events:"
)

// RedisPubSub implements Publisher using Redis Pub/Sub
type RedisPubSub struct {
	client      *redis.Client
	subscribers map[string]*redis.PubSub
	mu          sync.RWMutex
}

// NewRedisPubSub creates a new Redis Pub/Sub publisher
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:      client,
		subscribers: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to Redis
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	channel := r.channelName(event.Type)
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug().
		Str("event_type", string(event.Type)).
		Str("channel", channel).
		Msg("event published")

	return nil
}

// Subscribe subscribes to events of the specified types
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)

	// Wait for subscription confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					// Channel full, drop event
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// SubscribeAll subscribes to all event types
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pattern := channelPrefix + "*"
	pubsub := r.client.PSubscribe(ctx, pattern)

	// Wait for subscription confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh, nil
}

// Client returns the underlying Redis client, for health checks only --
// never consulted to reconstruct TaskHandle state.
func (r *RedisPubSub) Client() *redis.Client {
	return r.client
}

// Close closes all subscriptions
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pubsub := range r.subscribers {
		pubsub.Close()
	}
	r.subscribers = make(map[string]*redis.PubSub)

	return nil
}

func (r *RedisPubSub) channelName(eventType EventType) string {
	return channelPrefix + string(eventType)
}

// PublishTaskEvent is a helper to publish a TaskHandle state transition.
func (r *RedisPubSub) PublishTaskEvent(ctx context.Context, eventType EventType, taskID, fromState, toState string, extra map[string]interface{}) error {
	event := NewEvent(eventType, TaskEventData(taskID, fromState, toState, extra))
	return r.Publish(ctx, event)
}

// PublishInfoEvent is a helper to publish a TaskInfo refresh.
func (r *RedisPubSub) PublishInfoEvent(ctx context.Context, taskID string, version int64, state string) error {
	event := NewEvent(EventTaskInfoUpdated, InfoEventData(taskID, version, state))
	return r.Publish(ctx, event)
}

// PublishMismatchEvent is a helper to publish a REMOTE_TASK_MISMATCH detection.
func (r *RedisPubSub) PublishMismatchEvent(ctx context.Context, taskID, expectedInstanceID, actualInstanceID string) error {
	event := NewEvent(EventTaskMismatch, MismatchEventData(taskID, expectedInstanceID, actualInstanceID))
	return r.Publish(ctx, event)
}

// PublishSplitsEvent is a helper to publish a splits-added notification.
func (r *RedisPubSub) PublishSplitsEvent(ctx context.Context, taskID string, count int) error {
	event := NewEvent(EventTaskSplitsAdded, map[string]interface{}{
		"task_id": taskID,
		"count":   count,
	})
	return r.Publish(ctx, event)
}

// PublishBuffersEvent is a helper to publish an output-buffers update.
func (r *RedisPubSub) PublishBuffersEvent(ctx context.Context, taskID string, version int64) error {
	event := NewEvent(EventTaskBuffersUpdate, map[string]interface{}{
		"task_id": taskID,
		"version": version,
	})
	return r.Publish(ctx, event)
}
