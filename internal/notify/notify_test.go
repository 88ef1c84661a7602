package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/escalation"
)

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Publish(context.Context, *escalation.Notification) error {
	c.calls++
	return c.err
}

func TestMulti_AllAttempted(t *testing.T) {
	t.Parallel()

	errA := errors.New("slack down")
	a := &countingNotifier{err: errA}
	b := &countingNotifier{}
	m := Multi{a, nil, b}

	err := m.Publish(context.Background(), &escalation.Notification{TicketID: "t-1"})
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want %v", err, errA)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	errA, errB := errors.New("a"), errors.New("b")
	err := Multi{&countingNotifier{err: errA}, &countingNotifier{err: errB}}.
		Publish(context.Background(), &escalation.Notification{})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want both errors", err)
	}
}

func TestMulti_Empty(t *testing.T) {
	t.Parallel()

	if err := (Multi{}).Publish(context.Background(), &escalation.Notification{}); err != nil {
		t.Errorf("empty Multi err = %v, want nil", err)
	}
}

func TestLogger_NeverFails(t *testing.T) {
	t.Parallel()

	for _, l := range []Logger{{}, {L: log.Nop()}} {
		if err := l.Publish(context.Background(), &escalation.Notification{Subject: "s"}); err != nil {
			t.Errorf("Logger.Publish = %v, want nil", err)
		}
	}
}
