package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/priorityops/internal/escalation"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

var _ escalation.Notifier = (*Notifier)(nil)

// decodeNotification is what a subscriber does with a published payload.
func decodeNotification(payload []byte) (*escalation.Notification, error) {
	var n escalation.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func testNotification() *escalation.Notification {
	return &escalation.Notification{
		Subject:  "SLA BREACH: Ticket t-1 Escalated",
		Message:  "breached",
		TicketID: "t-1",
		Title:    "VPN down",
		Priority: ticket.PriorityHigh,
		Window:   "1-hour",
		At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublish_EncodesOnChannel(t *testing.T) {
	t.Parallel()

	fp := &fakePublisher{}
	n := newNotifier(fp, "")
	if err := n.Publish(context.Background(), testNotification()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fp.channels) != 1 || fp.channels[0] != DefaultChannel {
		t.Fatalf("channels = %v, want [%s]", fp.channels, DefaultChannel)
	}
	got, err := decodeNotification(fp.payloads[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TicketID != "t-1" || got.Priority != ticket.PriorityHigh || got.Window != "1-hour" {
		t.Errorf("decoded = %+v", got)
	}
	if !got.At.Equal(testNotification().At) {
		t.Errorf("At = %v, want %v", got.At, testNotification().At)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	t.Parallel()

	fp := &fakePublisher{}
	n := newNotifier(fp, "ops:alerts")
	if n.Channel() != "ops:alerts" {
		t.Errorf("Channel = %q, want ops:alerts", n.Channel())
	}
	_ = n.Publish(context.Background(), testNotification())
	if fp.channels[0] != "ops:alerts" {
		t.Errorf("published on %q, want ops:alerts", fp.channels[0])
	}
}

func TestPublish_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	n := newNotifier(&fakePublisher{err: boom}, "")
	err := n.Publish(context.Background(), testNotification())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}

func TestEncode_Nil(t *testing.T) {
	t.Parallel()

	if _, err := encode(nil); err == nil {
		t.Error("expected error for nil notification")
	}
}

func TestPublish_Integration(t *testing.T) {
	addr := os.Getenv("PRIORITYOPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRIORITYOPS_TEST_REDIS_ADDR not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	channel := "priorityops:test:" + time.Now().Format("150405.000000")
	sub := client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := New(client, channel).Publish(ctx, testNotification()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	got, err := decodeNotification([]byte(msg.Payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TicketID != "t-1" {
		t.Errorf("TicketID = %q, want t-1", got.TicketID)
	}
}
