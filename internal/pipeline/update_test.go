package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/ticket"
	"github.com/linnemanlabs/priorityops/internal/ticket/memstore"
)

func seededStore(t *testing.T, tk *ticket.Ticket) *memstore.Store {
	t.Helper()
	s := memstore.New()
	if err := s.Create(context.Background(), tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func fixedUpdateStage(store ticket.Store, at time.Time) *UpdateStage {
	u := NewUpdateStage(store, Config{}, log.Nop())
	u.now = func() time.Time { return at }
	return u
}

func TestUpdateStage_Duplicate(t *testing.T) {
	t.Parallel()

	store := seededStore(t, testTicket())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	u := fixedUpdateStage(store, at)

	p := Payload{Ticket: testTicket(), Outcome: Duplicate{Verdict: Verdict{IsDuplicate: true, DuplicateOf: "t-orig", Score: 0.93}}}
	applied, err := u.Apply(context.Background(), p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Action != ActionClosedDuplicate || applied.Matched != 1 {
		t.Errorf("applied = %+v, want closed_duplicate/1", applied)
	}

	got, _, _ := store.Get(context.Background(), "t-new")
	if got.Status != ticket.StatusClosed {
		t.Errorf("Status = %q, want Closed", got.Status)
	}
	if got.DuplicateOf != "t-orig" {
		t.Errorf("DuplicateOf = %q, want t-orig", got.DuplicateOf)
	}
	if len(got.AuditTrail) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(got.AuditTrail))
	}
	e := got.AuditTrail[0]
	if e.Agent != ticket.AgentDuplicateDetector || e.Action != "Closed as duplicate of t-orig" {
		t.Errorf("audit = %+v", e)
	}
	if !e.Timestamp.Equal(at) || !got.UpdatedAt.Equal(at) {
		t.Errorf("timestamps: audit=%v updated=%v, want %v", e.Timestamp, got.UpdatedAt, at)
	}
}

func TestUpdateStage_Triaged(t *testing.T) {
	t.Parallel()

	store := seededStore(t, testTicket())
	u := fixedUpdateStage(store, time.Now().UTC())

	res := TriageResult{
		Priority:                 ticket.PriorityCritical,
		Category:                 "Network Connectivity",
		ConfidenceScore:          91,
		EstimatedResolutionTime:  "30 minutes",
		RecommendedSolutionSteps: []string{"a", "b", "c"},
	}
	applied, err := u.Apply(context.Background(), Payload{Ticket: testTicket(), Outcome: Triaged{Result: res}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Action != ActionTriaged {
		t.Errorf("Action = %q, want %q", applied.Action, ActionTriaged)
	}

	got, _, _ := store.Get(context.Background(), "t-new")
	if got.Status != ticket.StatusOpen {
		t.Errorf("Status = %q, want Open", got.Status)
	}
	if got.Priority != ticket.PriorityCritical || got.Category != "Network Connectivity" ||
		got.ConfidenceScore != 91 || got.EstimatedResolutionTime != "30 minutes" || len(got.RecommendedSolutionSteps) != 3 {
		t.Errorf("triage fields not applied: %+v", got)
	}
	e := got.AuditTrail[0]
	if e.Agent != ticket.AgentTriage || e.Action != "Triaged; priority set to Critical" {
		t.Errorf("audit = %+v", e)
	}
	if e.Field != "priority" || e.NewValue != "Critical" {
		t.Errorf("audit field/new = %q/%q, want priority/Critical", e.Field, e.NewValue)
	}
}

func TestUpdateStage_NilOutcomeIsInvalidInput(t *testing.T) {
	t.Parallel()

	store := seededStore(t, testTicket())
	_, err := NewUpdateStage(store, Config{}, log.Nop()).Apply(context.Background(), Payload{Ticket: testTicket()})
	if !errors.Is(err, ticket.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	got, _, _ := store.Get(context.Background(), "t-new")
	if len(got.AuditTrail) != 0 || got.Status != ticket.StatusPending {
		t.Errorf("ticket modified: %+v", got)
	}
}

func TestUpdateStage_ZeroMatchIsReportedNotReturned(t *testing.T) {
	t.Parallel()

	tk := testTicket()
	tk.Status = ticket.StatusResolved
	store := seededStore(t, tk)

	applied, err := NewUpdateStage(store, Config{}, log.Nop()).Apply(context.Background(),
		Payload{Ticket: testTicket(), Outcome: Duplicate{Verdict: Verdict{IsDuplicate: true, DuplicateOf: "x"}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Matched != 0 {
		t.Errorf("Matched = %d, want 0", applied.Matched)
	}
	got, _, _ := store.Get(context.Background(), "t-new")
	if got.Status != ticket.StatusResolved {
		t.Errorf("Status = %q, want Resolved", got.Status)
	}
}

func TestUpdateStage_StoreErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: seededStore(t, testTicket()), updateErr: errors.New("connection reset")}
	_, err := NewUpdateStage(store, Config{}, log.Nop()).Apply(context.Background(),
		Payload{Ticket: testTicket(), Outcome: Triaged{Result: TriageResult{Priority: ticket.PriorityLow}}})
	if !errors.Is(err, ticket.ErrServiceUnavailable) {
		t.Errorf("err = %v, want ErrServiceUnavailable", err)
	}
}
