package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"CalmFM/logger"
	"CalmFM/model"

	"github.com/go-redis/redis/v8"
)

const feedChannel = "calmfm:feed"

// feedEnvelope is the wire form of a change event on the shared channel.
type feedEnvelope struct {
	UserID int64             `json:"userId"`
	Event  model.ChangeEvent `json:"event"`
}

// FeedBus relays change events between server instances over Redis pub/sub,
// so a client connected to any instance sees mutations committed on another.
type FeedBus struct {
	client *redis.Client
}

// NewFeedBus creates a bus on client.
func NewFeedBus(client *redis.Client) *FeedBus {
	return &FeedBus{client: client}
}

// Publish sends the event for userID to every subscribed instance, this one included.
func (b *FeedBus) Publish(ctx context.Context, userID int64, event model.ChangeEvent) error {
	if b.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(feedEnvelope{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}
	return b.client.Publish(ctx, feedChannel, data).Err()
}

// Run delivers every published event to deliver until ctx is cancelled.
// ready, if non-nil, is closed once the subscription is active.
func (b *FeedBus) Run(ctx context.Context, ready chan<- struct{}, deliver func(userID int64, event model.ChangeEvent)) error {
	if b.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	sub := b.client.Subscribe(ctx, feedChannel)
	defer sub.Close()

	// Wait for the subscribe confirmation so no publish after ready is lost.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to feed: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env feedEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("dropping malformed feed message", logger.ErrorField(err))
				continue
			}
			deliver(env.UserID, env.Event)
		}
	}
}
