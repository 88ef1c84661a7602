package ticket

import (
	"slices"
	"strings"
	"time"
)

// Priority is the urgency assigned to a ticket.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status tracks where a ticket is in its lifecycle.
type Status string

const (
	// StatusPending means created, not yet triaged
	StatusPending Status = "Pending"

	// StatusOpen means triaged and waiting for an agent
	StatusOpen Status = "Open"

	// StatusInProgress means an agent is working on it
	StatusInProgress Status = "InProgress"

	// StatusResolved means a fix was delivered
	StatusResolved Status = "Resolved"

	// StatusClosed means no further work, including closed duplicates
	StatusClosed Status = "Closed"

	// StatusEscalated means the SLA was breached while open
	StatusEscalated Status = "Escalated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusEscalated:
		return true
	}
	return false
}

// Audit agent names recorded on AuditEntry.Agent.
const (
	AgentDuplicateDetector = "DuplicateDetectorAgent"
	AgentTriage            = "AITriageAgent"
	AgentEscalation        = "EscalationAgent"
	AgentAPI               = "API"
)

// AuditEntry is one append-only record of a change made to a ticket.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Field     string    `json:"field,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
}

// Ticket is the durable support ticket record.
type Ticket struct {
	ID                       string       `json:"id"`
	Title                    string       `json:"title"`
	Description              string       `json:"description"`
	Priority                 Priority     `json:"priority"`
	Status                   Status       `json:"status"`
	Department               string       `json:"department,omitempty"`
	Assignee                 string       `json:"assignee,omitempty"`
	Category                 string       `json:"category,omitempty"`
	ConfidenceScore          int          `json:"confidence_score"`
	EstimatedResolutionTime  string       `json:"estimated_resolution_time,omitempty"`
	RecommendedSolutionSteps []string     `json:"recommended_solution_steps,omitempty"`
	DuplicateOf              string       `json:"duplicate_of,omitempty"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
	ResolvedAt               *time.Time   `json:"resolved_at,omitempty"`
	EscalatedAt              *time.Time   `json:"escalated_at,omitempty"`
	AuditTrail               []AuditEntry `json:"audit_trail"`
	Tags                     []string     `json:"tags,omitempty"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.RecommendedSolutionSteps = slices.Clone(t.RecommendedSolutionSteps)
	cp.AuditTrail = slices.Clone(t.AuditTrail)
	cp.Tags = slices.Clone(t.Tags)
	if t.ResolvedAt != nil {
		ra := *t.ResolvedAt
		cp.ResolvedAt = &ra
	}
	if t.EscalatedAt != nil {
		ea := *t.EscalatedAt
		cp.EscalatedAt = &ea
	}
	return &cp
}

// NormalizeTags trims, drops empties and de-duplicates tags, returning them sorted.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Mutation is a single atomic change to a ticket. Nil fields are left untouched.
// UpdatedAt is always bumped to the audit entry's timestamp, and a move into
// Resolved stamps ResolvedAt with it.
type Mutation struct {
	// ExpectStatus restricts the update to tickets currently in one of these
	// statuses. Empty means any status matches.
	ExpectStatus []Status

	Status                   *Status
	Priority                 *Priority
	Title                    *string
	Description              *string
	Department               *string
	Assignee                 *string
	Tags                     []string
	Category                 *string
	ConfidenceScore          *int
	EstimatedResolutionTime  *string
	RecommendedSolutionSteps []string
	DuplicateOf              *string
	EscalatedAt              *time.Time
}

// Matches reports whether a ticket in status s satisfies ExpectStatus.
func (m *Mutation) Matches(s Status) bool {
	return len(m.ExpectStatus) == 0 || slices.Contains(m.ExpectStatus, s)
}

// ApplyTo writes the mutation and audit entry onto t in place.
func (m *Mutation) ApplyTo(t *Ticket, entry AuditEntry) {
	if m.Status != nil {
		if *m.Status == StatusResolved && t.Status != StatusResolved {
			ra := entry.Timestamp
			t.ResolvedAt = &ra
		}
		t.Status = *m.Status
	}
	if m.Priority != nil {
		t.Priority = *m.Priority
	}
	if m.Title != nil {
		t.Title = *m.Title
	}
	if m.Description != nil {
		t.Description = *m.Description
	}
	if m.Department != nil {
		t.Department = *m.Department
	}
	if m.Assignee != nil {
		t.Assignee = *m.Assignee
	}
	if m.Tags != nil {
		t.Tags = NormalizeTags(m.Tags)
	}
	if m.Category != nil {
		t.Category = *m.Category
	}
	if m.ConfidenceScore != nil {
		t.ConfidenceScore = *m.ConfidenceScore
	}
	if m.EstimatedResolutionTime != nil {
		t.EstimatedResolutionTime = *m.EstimatedResolutionTime
	}
	if m.RecommendedSolutionSteps != nil {
		t.RecommendedSolutionSteps = slices.Clone(m.RecommendedSolutionSteps)
	}
	if m.DuplicateOf != nil {
		t.DuplicateOf = *m.DuplicateOf
	}
	if m.EscalatedAt != nil {
		ea := *m.EscalatedAt
		t.EscalatedAt = &ea
	}
	t.UpdatedAt = entry.Timestamp
	t.AuditTrail = append(t.AuditTrail, entry)
}

// Filter selects tickets for Store.Find. Zero-valued fields do not constrain.
type Filter struct {
	Statuses      []Status
	Priorities    []Priority
	UpdatedBefore time.Time
	Limit         int
}

// Match reports whether t satisfies the filter.
func (f *Filter) Match(t *Ticket) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
