// Package notify combines escalation notifiers.
package notify

import (
	"context"
	"errors"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/escalation"
)

// Multi publishes to every notifier in order. All notifiers are attempted;
// their errors are joined.
type Multi []escalation.Notifier

// Publish implements escalation.Notifier.
func (m Multi) Publish(ctx context.Context, n *escalation.Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes notifications to the log. Used when no channel is configured.
type Logger struct {
	L log.Logger
}

// Publish implements escalation.Notifier.
func (l Logger) Publish(ctx context.Context, n *escalation.Notification) error {
	L := l.L
	if L == nil {
		L = log.Nop()
	}
	L.Warn(ctx, n.Subject,
		"ticket_id", n.TicketID,
		"priority", string(n.Priority),
		"sla_window", n.Window,
		"message", n.Message,
	)
	return nil
}
