// Package redisbus publishes escalation notifications on a Redis pub/sub channel.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/priorityops/internal/escalation"
)

// DefaultChannel is the channel notifications are published on.
const DefaultChannel = "priorityops:escalations"

// publisher is the subset of redis.UniversalClient the notifier needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notifier publishes JSON-encoded notifications with PUBLISH.
type Notifier struct {
	client  publisher
	channel string
}

// New returns a Notifier publishing on channel, or DefaultChannel when empty.
func New(client redis.UniversalClient, channel string) *Notifier {
	return newNotifier(client, channel)
}

func newNotifier(client publisher, channel string) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{client: client, channel: channel}
}

// Channel returns the channel notifications are published on.
func (n *Notifier) Channel() string { return n.channel }

// Publish encodes msg and publishes it. Zero subscribers is not an error.
func (n *Notifier) Publish(ctx context.Context, msg *escalation.Notification) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", n.channel, err)
	}
	return nil
}

// encode returns the JSON wire form of msg.
func encode(msg *escalation.Notification) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("redisbus: nil notification")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("redisbus: marshal notification: %w", err)
	}
	return b, nil
}
