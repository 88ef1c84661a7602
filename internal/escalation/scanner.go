// Package escalation finds open high-priority tickets that have breached
// their SLA window, escalates each one once and notifies about it.
package escalation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/postgres"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/priorityops/internal/escalation")

const (
	DefaultSLA          = time.Hour
	DefaultInterval     = 5 * time.Minute
	DefaultCallTimeout  = 30 * time.Second
	DefaultScanTimeout  = 4 * time.Minute
	DefaultScanPageSize = 500
)

// Notification is published for every escalated ticket.
type Notification struct {
	Subject  string          `json:"subject"`
	Message  string          `json:"message"`
	TicketID string          `json:"ticket_id"`
	Title    string          `json:"title"`
	Priority ticket.Priority `json:"priority"`
	Window   string          `json:"sla_window"`
	At       time.Time       `json:"escalated_at"`
}

// Notifier delivers escalation notifications. Delivery is at-least-once.
type Notifier interface {
	Publish(ctx context.Context, n *Notification) error
}

// Config tunes the scanner. Zero values fall back to the defaults.
type Config struct {
	SLA         time.Duration
	Interval    time.Duration
	CallTimeout time.Duration
	ScanTimeout time.Duration
	// Limit caps how many breached tickets one scan handles; 0 means the default.
	Limit int
}

func (c Config) withDefaults() Config {
	if c.SLA <= 0 {
		c.SLA = DefaultSLA
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.Limit <= 0 {
		c.Limit = DefaultScanPageSize
	}
	return c
}

// ScanResult counts what one scan did.
type ScanResult struct {
	Matched      int `json:"matched"`
	Escalated    int `json:"escalated"`
	Failed       int `json:"failed"`
	NotifyFailed int `json:"notify_failed"`
}

// Scanner escalates SLA breaches.
type Scanner struct {
	store    ticket.Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
	logger   log.Logger
	metrics  *Metrics
}

// NewScanner builds a Scanner. metrics may be nil.
func NewScanner(store ticket.Store, notifier Notifier, cfg Config, logger log.Logger, metrics *Metrics) *Scanner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scanner{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
		metrics:  metrics,
	}
}

// Run scans every Interval until ctx is done. Scan errors are logged.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "escalation scanner started",
		"interval", s.cfg.Interval.String(),
		"sla", s.cfg.SLA.String(),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "escalation scanner stopped")
			return nil
		case <-ticker.C:
			scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
			if _, err := s.Scan(scanCtx); err != nil {
				s.logger.Error(ctx, err, "escalation scan failed")
			}
			cancel()
		}
	}
}

// Scan escalates every breached ticket independently. Only a failure to list
// candidates is returned; per-ticket failures are counted in the result.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	ctx, span := tracer.Start(ctx, "escalation.scan")
	defer span.End()
	ctx = postgres.WithOperation(ctx, "escalation.scan")

	start := time.Now()
	now := s.now()
	cutoff := now.Add(-s.cfg.SLA)

	candidates, err := s.find(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.observeScan("error", time.Since(start))
		return nil, err
	}

	res := &ScanResult{Matched: len(candidates)}
	for _, t := range candidates {
		switch s.escalate(ctx, t, now) {
		case outcomeEscalated:
			res.Escalated++
		case outcomeNotifyFailed:
			res.Escalated++
			res.NotifyFailed++
		case outcomeFailed:
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("priorityops.scan.matched", res.Matched),
		attribute.Int("priorityops.scan.escalated", res.Escalated),
		attribute.Int("priorityops.scan.failed", res.Failed),
		attribute.Int("priorityops.scan.notify_failed", res.NotifyFailed),
	)
	s.metrics.observeScan("ok", time.Since(start))
	s.metrics.observeResult(res)
	s.logger.Info(ctx, "escalation scan complete",
		"matched", res.Matched,
		"escalated", res.Escalated,
		"failed", res.Failed,
		"notify_failed", res.NotifyFailed,
		"duration", time.Since(start).Seconds(),
	)
	return res, nil
}

func (s *Scanner) find(ctx context.Context, cutoff time.Time) ([]*ticket.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	candidates, err := s.store.Find(ctx, ticket.Filter{
		Statuses:      []ticket.Status{ticket.StatusOpen},
		Priorities:    []ticket.Priority{ticket.PriorityHigh, ticket.PriorityCritical},
		UpdatedBefore: cutoff,
		Limit:         s.cfg.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find breached tickets: %w", ticket.ErrServiceUnavailable, err)
	}
	return candidates, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeEscalated
	outcomeNotifyFailed
)

func (s *Scanner) escalate(ctx context.Context, t *ticket.Ticket, now time.Time) outcome {
	L := s.logger.With("ticket_id", t.ID, "priority", t.Priority)
	window := formatWindow(s.cfg.SLA)

	matched, err := s.update(ctx, t, now, window)
	if err != nil {
		L.Error(ctx, err, "escalation update failed")
		return outcomeFailed
	}
	if matched == 0 {
		L.Warn(ctx, "escalation update matched nothing",
			"error", fmt.Errorf("%w: ticket %s is no longer open", ticket.ErrPersistenceConflict, t.ID),
		)
		return outcomeFailed
	}

	n := &Notification{
		Subject:  fmt.Sprintf("SLA BREACH: Ticket %s Escalated", t.ID),
		Message:  buildMessage(t, window),
		TicketID: t.ID,
		Title:    t.Title,
		Priority: t.Priority,
		Window:   window,
		At:       now,
	}
	if err := s.publish(ctx, n); err != nil {
		L.Error(ctx, err, "escalation notification failed")
		return outcomeNotifyFailed
	}

	L.Info(ctx, "ticket escalated", "sla_window", window)
	return outcomeEscalated
}

func (s *Scanner) update(ctx context.Context, t *ticket.Ticket, now time.Time, window string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	escalated := ticket.StatusEscalated
	at := now
	matched, err := s.store.Update(ctx, t.ID, &ticket.Mutation{
		ExpectStatus: []ticket.Status{ticket.StatusOpen},
		Status:       &escalated,
		EscalatedAt:  &at,
	}, ticket.AuditEntry{
		Timestamp: now,
		Agent:     ticket.AgentEscalation,
		Action:    fmt.Sprintf("Breached %s SLA. Status set to Escalated.", window),
		Field:     "status",
		OldValue:  string(t.Status),
		NewValue:  string(escalated),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ticket.ErrServiceUnavailable, err)
	}
	return matched, nil
}

func (s *Scanner) publish(ctx context.Context, n *Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.notifier.Publish(ctx, n); err != nil {
		return fmt.Errorf("%w: publish: %w", ticket.ErrServiceUnavailable, err)
	}
	return nil
}

func buildMessage(t *ticket.Ticket, window string) string {
	return fmt.Sprintf("A %s priority ticket has breached its %s SLA and has been escalated.\n\nTicket ID: %s\nTitle: %s",
		t.Priority, window, t.ID, t.Title)
}

// formatWindow renders an SLA duration the way it appears in audit entries,
// e.g. "1-hour" or "90-minute".
func formatWindow(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%d-hour", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d-minute", int(d/time.Minute))
	}
	return d.String()
}
