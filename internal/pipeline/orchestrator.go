package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/postgres"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/priorityops/internal/pipeline")

// RunResult describes a completed run.
type RunResult struct {
	RunID    string        `json:"run_id"`
	TicketID string        `json:"ticket_id"`
	Action   string        `json:"action"`
	Verdict  Verdict       `json:"verdict"`
	Triage   *TriageResult `json:"triage,omitempty"`
	// Matched is 0 when the ticket changed state while the run was in flight.
	Matched  int64         `json:"matched"`
	Duration time.Duration `json:"duration"`
}

// Orchestrator runs tickets through the stages in fixed order.
type Orchestrator struct {
	store   ticket.Store
	dedup   Deduplicator
	triager Triager
	applier Applier
	timeout time.Duration
	logger  log.Logger
	hooks   Hooks
}

// NewOrchestrator wires the stages. store is used for the fetch step only.
func NewOrchestrator(store ticket.Store, dedup Deduplicator, triager Triager, applier Applier, cfg Config, logger log.Logger, hooks Hooks) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:   store,
		dedup:   dedup,
		triager: triager,
		applier: applier,
		timeout: cfg.CallTimeout,
		logger:  logger,
		hooks:   hooks,
	}
}

// New builds an Orchestrator from the default stage implementations.
func New(store ticket.Store, embedder Embedder, index VectorIndex, classifier Classifier, cfg Config, logger log.Logger, hooks Hooks) *Orchestrator {
	return NewOrchestrator(
		store,
		NewDuplicateStage(embedder, index, cfg, logger),
		NewTriageStage(classifier, cfg, logger, hooks),
		NewUpdateStage(store, cfg, logger),
		cfg, logger, hooks,
	)
}

// Run executes one pipeline run for ticketID. Any stage error aborts the run
// and is returned as a *StageError; nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, ticketID string) (*RunResult, error) {
	start := time.Now()
	runID := ulid.Make().String()

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("priorityops.run.id", runID),
		attribute.String("priorityops.ticket.id", ticketID),
	))
	defer span.End()

	L := o.logger.With("run_id", runID, "ticket_id", ticketID)
	ctx = log.WithContext(ctx, L)

	res, err := o.run(ctx, runID, ticketID)
	dur := time.Since(start)

	ev := &RunEvent{Duration: dur.Seconds()}
	switch {
	case err != nil:
		ev.Result = "error"
		ev.FailedStage = FailedStage(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "pipeline run failed", "stage", ev.FailedStage, "duration", dur.Seconds())
	case res.Matched == 0:
		ev.Result = "conflict"
	default:
		ev.Result = res.Action
	}
	if o.hooks.OnRun != nil {
		o.hooks.OnRun(ev)
	}
	if err != nil {
		return nil, err
	}

	res.Duration = dur
	span.SetAttributes(
		attribute.String("priorityops.run.action", res.Action),
		attribute.Bool("priorityops.run.duplicate", res.Verdict.IsDuplicate),
		attribute.Int64("priorityops.run.matched", res.Matched),
	)
	L.Info(ctx, "pipeline run complete",
		"action", res.Action,
		"is_duplicate", res.Verdict.IsDuplicate,
		"matched", res.Matched,
		"duration", dur.Seconds(),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, runID, ticketID string) (*RunResult, error) {
	p, err := o.fetch(ctx, ticketID)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}

	p, err = o.step(ctx, StageDuplicate, p, o.dedup.Detect)
	if err != nil {
		return nil, err
	}

	p, err = o.step(ctx, StageTriage, p, o.triager.Triage)
	if err != nil {
		return nil, err
	}

	applied, err := o.apply(ctx, p)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:    runID,
		TicketID: ticketID,
		Action:   applied.Action,
		Verdict:  p.Verdict,
		Matched:  applied.Matched,
	}
	if t, ok := p.Outcome.(Triaged); ok {
		tr := t.Result
		res.Triage = &tr
	}
	return res, nil
}

func (o *Orchestrator) step(ctx context.Context, name string, p Payload, fn func(context.Context, Payload) (Payload, error)) (Payload, error) {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	next, err := fn(postgres.WithOperation(ctx, "pipeline."+name), p)
	o.hooks.stage(name, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return p, &StageError{Stage: name, Err: err}
	}
	return next, nil
}

func (o *Orchestrator) apply(ctx context.Context, p Payload) (Applied, error) {
	ctx, span := tracer.Start(ctx, "pipeline."+StageUpdate)
	defer span.End()

	start := time.Now()
	applied, err := o.applier.Apply(postgres.WithOperation(ctx, "pipeline."+StageUpdate), p)
	o.hooks.stage(StageUpdate, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Applied{}, &StageError{Stage: StageUpdate, Err: err}
	}
	span.SetAttributes(attribute.Int64("db.rows_matched", applied.Matched))
	return applied, nil
}

func (o *Orchestrator) fetch(ctx context.Context, ticketID string) (Payload, error) {
	if ticketID == "" {
		return Payload{}, fmt.Errorf("%w: empty ticket id", ticket.ErrInvalidInput)
	}

	start := time.Now()
	ctx, cancel := withTimeout(postgres.WithOperation(ctx, "pipeline."+StageFetch), o.timeout)
	defer cancel()

	t, ok, err := o.store.Get(ctx, ticketID)
	if err != nil {
		err = unavailable("ticket fetch", err)
	} else if !ok {
		err = fmt.Errorf("%w: ticket %s", ticket.ErrNotFound, ticketID)
	}
	o.hooks.stage(StageFetch, start, err)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Ticket: t}, nil
}
