package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// Actions reported on RunResult.Action.
const (
	ActionClosedDuplicate = "closed_duplicate"
	ActionTriaged         = "triaged"
)

// Applied is the outcome of the single store write made by an Applier.
type Applied struct {
	Action  string
	Matched int64
}

// Applier persists a payload's outcome.
type Applier interface {
	Apply(ctx context.Context, p Payload) (Applied, error)
}

// UpdateStage turns an Outcome into exactly one store mutation and one
// audit entry.
type UpdateStage struct {
	store   ticket.Store
	timeout time.Duration
	now     func() time.Time
	logger  log.Logger
}

// NewUpdateStage builds the update stage.
func NewUpdateStage(store ticket.Store, cfg Config, logger log.Logger) *UpdateStage {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	return &UpdateStage{
		store:   store,
		timeout: cfg.CallTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Apply writes the outcome. Zero matched rows means the ticket left the
// Pending/Open states concurrently; it is logged and reported, not returned.
func (s *UpdateStage) Apply(ctx context.Context, p Payload) (Applied, error) {
	if p.Ticket == nil {
		return Applied{}, fmt.Errorf("%w: payload has no ticket", ticket.ErrInvalidInput)
	}

	m, entry, action, err := mutationFor(p, s.now())
	if err != nil {
		return Applied{}, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	matched, err := s.store.Update(ctx, p.Ticket.ID, m, entry)
	if err != nil {
		return Applied{}, unavailable("ticket update", err)
	}

	if matched == 0 {
		s.logger.Warn(ctx, "ticket update matched nothing",
			"ticket_id", p.Ticket.ID,
			"action", action,
			"error", fmt.Errorf("%w: ticket %s no longer pending or open", ticket.ErrPersistenceConflict, p.Ticket.ID),
		)
	}
	return Applied{Action: action, Matched: matched}, nil
}

// mutationFor maps an outcome to its mutation and audit entry.
func mutationFor(p Payload, now time.Time) (*ticket.Mutation, ticket.AuditEntry, string, error) {
	expect := []ticket.Status{ticket.StatusPending, ticket.StatusOpen}

	switch o := p.Outcome.(type) {
	case Duplicate:
		closed := ticket.StatusClosed
		dupOf := o.Verdict.DuplicateOf
		return &ticket.Mutation{
				ExpectStatus: expect,
				Status:       &closed,
				DuplicateOf:  &dupOf,
			}, ticket.AuditEntry{
				Timestamp: now,
				Agent:     ticket.AgentDuplicateDetector,
				Action:    "Closed as duplicate of " + dupOf,
				Field:     "status",
				OldValue:  string(p.Ticket.Status),
				NewValue:  string(closed),
			}, ActionClosedDuplicate, nil

	case Triaged:
		open := ticket.StatusOpen
		r := o.Result
		prio := r.Priority
		category := r.Category
		confidence := r.ConfidenceScore
		estimate := r.EstimatedResolutionTime
		return &ticket.Mutation{
				ExpectStatus:             expect,
				Status:                   &open,
				Priority:                 &prio,
				Category:                 &category,
				ConfidenceScore:          &confidence,
				EstimatedResolutionTime:  &estimate,
				RecommendedSolutionSteps: r.RecommendedSolutionSteps,
			}, ticket.AuditEntry{
				Timestamp: now,
				Agent:     ticket.AgentTriage,
				Action:    "Triaged; priority set to " + string(prio),
				Field:     "priority",
				OldValue:  string(p.Ticket.Priority),
				NewValue:  string(prio),
			}, ActionTriaged, nil
	}

	return nil, ticket.AuditEntry{}, "", fmt.Errorf("%w: payload has no outcome", ticket.ErrInvalidInput)
}
