package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	tk := &ticket.Ticket{Title: "VPN down", Description: "cannot connect", Tags: []string{"vpn", " vpn", ""}}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ID == "" {
		t.Fatal("expected Create to assign an ID")
	}

	got, ok, err := s.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected ticket to be found")
	}
	if got.Title != "VPN down" {
		t.Errorf("Title = %q, want %q", got.Title, "VPN down")
	}
	if got.Status != ticket.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, ticket.StatusPending)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "vpn" {
		t.Errorf("Tags = %v, want [vpn]", got.Tags)
	}
	if got.CreatedAt.IsZero() || !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("timestamps not initialised: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	tk := &ticket.Ticket{Title: "t", Description: "d"}
	if err := s.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, want := range []bool{true, false} {
		ok, err := s.Delete(ctx, tk.ID)
		if err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
		if ok != want {
			t.Errorf("Delete %d = %v, want %v", i, ok, want)
		}
	}
	if _, ok, _ := s.Get(ctx, tk.ID); ok {
		t.Error("ticket still present after Delete")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, &ticket.Ticket{ID: "t-copy", Title: "a", Description: "b", RecommendedSolutionSteps: []string{"one"}})

	got, _, _ := s.Get(ctx, "t-copy")
	got.Title = "mutated"
	got.RecommendedSolutionSteps[0] = "mutated"

	again, _, _ := s.Get(ctx, "t-copy")
	if again.Title != "a" {
		t.Errorf("Title = %q, want %q", again.Title, "a")
	}
	if again.RecommendedSolutionSteps[0] != "one" {
		t.Errorf("step = %q, want %q", again.RecommendedSolutionSteps[0], "one")
	}
}

func TestStore_UpdateAppliesMutationAndAudit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, &ticket.Ticket{ID: "t-up", Title: "a", Description: "b", Status: ticket.StatusPending})

	open := ticket.StatusOpen
	prio := ticket.PriorityHigh
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	matched, err := s.Update(ctx, "t-up", &ticket.Mutation{
		ExpectStatus: []ticket.Status{ticket.StatusPending, ticket.StatusOpen},
		Status:       &open,
		Priority:     &prio,
	}, ticket.AuditEntry{Timestamp: ts, Agent: ticket.AgentTriage, Action: "Triaged; priority set to High"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if matched != 1 {
		t.Fatalf("matched = %d, want 1", matched)
	}

	got, _, _ := s.Get(ctx, "t-up")
	if got.Status != ticket.StatusOpen {
		t.Errorf("Status = %q, want %q", got.Status, ticket.StatusOpen)
	}
	if got.Priority != ticket.PriorityHigh {
		t.Errorf("Priority = %q, want %q", got.Priority, ticket.PriorityHigh)
	}
	if !got.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, ts)
	}
	if len(got.AuditTrail) != 1 || got.AuditTrail[0].Agent != ticket.AgentTriage {
		t.Errorf("AuditTrail = %+v, want one %s entry", got.AuditTrail, ticket.AgentTriage)
	}
}

func TestStore_UpdateMissingMatchesZero(t *testing.T) {
	t.Parallel()

	s := New()
	matched, err := s.Update(context.Background(), "ghost", &ticket.Mutation{}, ticket.AuditEntry{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if matched != 0 {
		t.Errorf("matched = %d, want 0", matched)
	}
}

func TestStore_UpdateExpectStatusMismatch(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, &ticket.Ticket{ID: "t-esc", Title: "a", Description: "b", Status: ticket.StatusEscalated})

	esc := ticket.StatusEscalated
	matched, err := s.Update(ctx, "t-esc", &ticket.Mutation{
		ExpectStatus: []ticket.Status{ticket.StatusOpen},
		Status:       &esc,
	}, ticket.AuditEntry{Timestamp: time.Now(), Action: "x"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if matched != 0 {
		t.Errorf("matched = %d, want 0", matched)
	}
	got, _, _ := s.Get(ctx, "t-esc")
	if len(got.AuditTrail) != 0 {
		t.Errorf("AuditTrail len = %d, want 0", len(got.AuditTrail))
	}
}

func TestStore_Find(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []*ticket.Ticket{
		{ID: "old-high", Status: ticket.StatusOpen, Priority: ticket.PriorityHigh, UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "old-crit", Status: ticket.StatusOpen, Priority: ticket.PriorityCritical, UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "old-low", Status: ticket.StatusOpen, Priority: ticket.PriorityLow, UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "fresh-high", Status: ticket.StatusOpen, Priority: ticket.PriorityHigh, UpdatedAt: now.Add(-10 * time.Minute)},
		{ID: "old-escalated", Status: ticket.StatusEscalated, Priority: ticket.PriorityHigh, UpdatedAt: now.Add(-5 * time.Hour)},
	}
	for _, tk := range seed {
		tk.CreatedAt = tk.UpdatedAt
		if err := s.Create(ctx, tk); err != nil {
			t.Fatalf("Create %s: %v", tk.ID, err)
		}
	}

	got, err := s.Find(ctx, ticket.Filter{
		Statuses:      []ticket.Status{ticket.StatusOpen},
		Priorities:    []ticket.Priority{ticket.PriorityHigh, ticket.PriorityCritical},
		UpdatedBefore: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Find returned %d tickets, want 2", len(got))
	}
	if got[0].ID != "old-high" || got[1].ID != "old-crit" {
		t.Errorf("order = [%s %s], want [old-high old-crit]", got[0].ID, got[1].ID)
	}
}

func TestStore_FindLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 5 {
		_ = s.Create(ctx, &ticket.Ticket{ID: fmt.Sprintf("t-%d", i), Status: ticket.StatusOpen})
	}
	got, err := s.Find(ctx, ticket.Filter{Limit: 3})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		id := fmt.Sprintf("id-%d", i)

		go func() {
			defer wg.Done()
			_ = s.Create(ctx, &ticket.Ticket{ID: id, Status: ticket.StatusOpen})
		}()

		go func() {
			defer wg.Done()
			esc := ticket.StatusEscalated
			_, _ = s.Update(ctx, id, &ticket.Mutation{Status: &esc}, ticket.AuditEntry{Timestamp: time.Now()})
			_, _, _ = s.Get(ctx, id)
			_, _ = s.Find(ctx, ticket.Filter{Statuses: []ticket.Status{ticket.StatusOpen}})
		}()
	}

	wg.Wait()
}
