// Package events carries ticket lifecycle events from producers (the HTTP API)
// to consumers (the pipeline listener). Two transports are provided: an
// in-process Dispatcher and a Redis pub/sub Bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Ticket lifecycle event types.
const (
	// TypeTicketCreated is emitted after a ticket is persisted with status Pending.
	TypeTicketCreated = "ticket.created"
	TypeTicketUpdated = "ticket.updated"
	TypeTicketDeleted = "ticket.deleted"
)

// ErrClosed is returned when publishing to a stopped transport.
var ErrClosed = errors.New("events: transport closed")

// Event is the message body on every transport.
type Event struct {
	Type       string    `json:"type"`
	TicketID   string    `json:"ticket_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TicketCreated builds a ticket.created event stamped now.
func TicketCreated(ticketID string) Event { return newEvent(TypeTicketCreated, ticketID) }

// TicketUpdated builds a ticket.updated event stamped now.
func TicketUpdated(ticketID string) Event { return newEvent(TypeTicketUpdated, ticketID) }

// TicketDeleted builds a ticket.deleted event stamped now.
func TicketDeleted(ticketID string) Event { return newEvent(TypeTicketDeleted, ticketID) }

func newEvent(typ, ticketID string) Event {
	return Event{Type: typ, TicketID: ticketID, OccurredAt: time.Now().UTC()}
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes one event. Errors are logged by the transport, never retried.
type Handler func(ctx context.Context, ev Event) error

// Route sends each event to the handler registered for its type. Types
// without a handler are ignored.
func Route(handlers map[string]Handler) Handler {
	return func(ctx context.Context, ev Event) error {
		h, ok := handlers[ev.Type]
		if !ok || h == nil {
			return nil
		}
		return h(ctx, ev)
	}
}

func encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: marshal: %w", err)
	}
	return b, nil
}

func decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("events: unmarshal: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("events: missing type")
	}
	return ev, nil
}
