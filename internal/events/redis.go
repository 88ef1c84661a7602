package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "priorityops:events"

// Bus publishes and consumes events over Redis pub/sub. Delivery is
// at-most-once: events published while no listener is subscribed are lost.
type Bus struct {
	client  redis.UniversalClient
	channel string
	workers int
	logger  log.Logger

	newBackOff func() backoff.BackOff
}

// maxResubscribeInterval caps the wait between subscription attempts.
const maxResubscribeInterval = 30 * time.Second

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxResubscribeInterval
	return bo
}

// NewBus returns a Bus on channel, or DefaultChannel when empty.
func NewBus(client redis.UniversalClient, channel string, workers int, logger log.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{client: client, channel: channel, workers: workers, logger: logger, newBackOff: defaultBackOff}
}

// Publish sends ev on the bus channel.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", b.channel, err)
	}
	return nil
}

// Run subscribes to the bus channel and hands each event to h, with at most
// workers handlers in flight, until ctx is done. A failed or dropped
// subscription is retried with exponential backoff; Run only returns once ctx
// is done.
func (b *Bus) Run(ctx context.Context, h Handler) error {
	bo := b.newBackOff()
	for {
		subscribed, err := b.listen(ctx, h)
		if ctx.Err() != nil {
			b.logger.Info(context.WithoutCancel(ctx), "event bus stopped", "channel", b.channel)
			return nil
		}
		if subscribed {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		b.logger.Warn(ctx, "event bus subscription failed, retrying",
			"channel", b.channel, "error", err, "retry_in", wait.String())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			b.logger.Info(context.WithoutCancel(ctx), "event bus stopped", "channel", b.channel)
			return nil
		case <-t.C:
		}
	}
}

// listen runs one subscription. subscribed reports whether the channel was
// joined before the subscription ended.
func (b *Bus) listen(ctx context.Context, h Handler) (subscribed bool, err error) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("events: subscribe %s: %w", b.channel, err)
	}
	b.logger.Info(ctx, "event bus subscribed", "channel", b.channel, "workers", b.workers)

	var g errgroup.Group
	g.SetLimit(b.workers)
	defer func() { _ = g.Wait() }()
	msgs := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return true, fmt.Errorf("events: subscription %s closed", b.channel)
			}
			ev, err := decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn(ctx, "dropping undecodable event", "channel", b.channel, "error", err)
				continue
			}
			hctx := context.WithoutCancel(ctx)
			g.Go(func() error {
				if err := h(hctx, ev); err != nil {
					b.logger.Error(hctx, err, "event handler failed", "type", ev.Type, "ticket_id", ev.TicketID)
				}
				return nil
			})
		}
	}
}
