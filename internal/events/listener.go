package events

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
)

// Runner executes the pipeline for one ticket.
type Runner interface {
	Run(ctx context.Context, ticketID string) (*pipeline.RunResult, error)
}

var _ Runner = (*pipeline.Orchestrator)(nil)

var _ Forgetter = (pipeline.VectorIndex)(nil)

// PipelineHandler runs the pipeline for every ticket.created event and
// ignores all other types.
func PipelineHandler(r Runner, logger log.Logger) Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(ctx context.Context, ev Event) error {
		if ev.Type != TypeTicketCreated {
			return nil
		}
		if ev.TicketID == "" {
			return fmt.Errorf("events: %s without ticket_id", ev.Type)
		}
		res, err := r.Run(ctx, ev.TicketID)
		if err != nil {
			return fmt.Errorf("pipeline run for %s (stage %s): %w", ev.TicketID, pipeline.FailedStage(err), err)
		}
		logger.Info(ctx, "pipeline run from event",
			"ticket_id", ev.TicketID,
			"run_id", res.RunID,
			"action", res.Action,
		)
		return nil
	}
}

// Forgetter drops a ticket from the vector index.
type Forgetter interface {
	Delete(ctx context.Context, ticketID string) error
}

// ForgetHandler removes deleted tickets from the vector index so they can no
// longer be matched as duplicates. Other types are ignored.
func ForgetHandler(f Forgetter, logger log.Logger) Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(ctx context.Context, ev Event) error {
		if ev.Type != TypeTicketDeleted {
			return nil
		}
		if ev.TicketID == "" {
			return fmt.Errorf("events: %s without ticket_id", ev.Type)
		}
		if err := f.Delete(ctx, ev.TicketID); err != nil {
			return fmt.Errorf("forget vector for %s: %w", ev.TicketID, err)
		}
		logger.Info(ctx, "vector removed for deleted ticket", "ticket_id", ev.TicketID)
		return nil
	}
}
