package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// Verdict is the duplicate-detection decision for one run.
type Verdict struct {
	IsDuplicate bool    `json:"is_duplicate"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
	Score       float64 `json:"score"`
}

// TriageResult is a validated classification of a ticket.
type TriageResult struct {
	Priority                 ticket.Priority `json:"priority"`
	Category                 string          `json:"category"`
	ConfidenceScore          int             `json:"confidence_score"`
	EstimatedResolutionTime  string          `json:"estimated_resolution_time"`
	RecommendedSolutionSteps []string        `json:"recommended_solution_steps"`
}

// Outcome is what the triage stage hands to the update stage.
// It is either Duplicate or Triaged; no other implementations exist.
type Outcome interface {
	outcome()
}

// Duplicate means triage was bypassed because the ticket repeats another.
type Duplicate struct {
	Verdict Verdict
}

// Triaged carries a successful classification.
type Triaged struct {
	Verdict Verdict
	Result  TriageResult
}

func (Duplicate) outcome() {}
func (Triaged) outcome()   {}

// Payload is threaded by value through the stages of one run.
// Stages return a new Payload and never modify Ticket.
type Payload struct {
	Ticket  *ticket.Ticket
	Verdict Verdict
	Outcome Outcome
}

func (p Payload) withVerdict(v Verdict) Payload {
	p.Verdict = v
	return p
}

func (p Payload) withOutcome(o Outcome) Payload {
	p.Outcome = o
	return p
}

// VectorRecord is the index entry for one ticket, keyed by TicketID.
type VectorRecord struct {
	TicketID    string
	Title       string
	Description string
	CreatedAt   time.Time
	Vector      []float32
}

// Neighbor is one similarity search hit. Score is higher for closer matches.
type Neighbor struct {
	TicketID    string
	Score       float64
	Title       string
	Description string
	// CreatedAt is the indexed ticket's creation time, zero when unknown.
	CreatedAt time.Time
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores ticket vectors and answers nearest-neighbor queries.
// Search returns at most k neighbors in descending score order. Delete of an
// unknown ticket is not an error.
type VectorIndex interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	Delete(ctx context.Context, ticketID string) error
}

// Classifier is a provider-neutral text completion backend.
type Classifier interface {
	Complete(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error)
}

// ClassifyRequest is a single-turn completion request.
type ClassifyRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// ClassifyResponse is the text returned by a Classifier plus usage.
type ClassifyResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Stage names used in StageError, logs and metrics.
const (
	StageFetch     = "fetch"
	StageDuplicate = "duplicate"
	StageTriage    = "triage"
	StageUpdate    = "update"
)

// StageError reports which stage aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage that produced err, or "" if err did not come
// from a pipeline run.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ticket.ErrServiceUnavailable, op, err)
}
