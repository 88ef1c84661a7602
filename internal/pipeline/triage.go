package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// MinSolutionSteps is the fewest recommended steps a classification may carry.
const MinSolutionSteps = 3

// Triager classifies the payload's ticket unless it is a duplicate.
type Triager interface {
	Triage(ctx context.Context, p Payload) (Payload, error)
}

// TriageStage asks a Classifier for a structured classification.
type TriageStage struct {
	classifier Classifier
	maxTokens  int
	timeout    time.Duration
	logger     log.Logger
	hooks      Hooks
}

// NewTriageStage builds the triage stage.
func NewTriageStage(classifier Classifier, cfg Config, logger log.Logger, hooks Hooks) *TriageStage {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	return &TriageStage{
		classifier: classifier,
		maxTokens:  cfg.MaxTokens,
		timeout:    cfg.ClassifyTimeout,
		logger:     logger,
		hooks:      hooks,
	}
}

// Triage sets p.Outcome. A duplicate verdict short-circuits without calling
// the classifier.
func (s *TriageStage) Triage(ctx context.Context, p Payload) (Payload, error) {
	if p.Verdict.IsDuplicate {
		return p.withOutcome(Duplicate{Verdict: p.Verdict}), nil
	}
	if p.Ticket == nil {
		return p, fmt.Errorf("%w: payload has no ticket", ticket.ErrInvalidInput)
	}

	req := &ClassifyRequest{
		System:    buildSystemPrompt(),
		Prompt:    buildTriagePrompt(p.Ticket),
		MaxTokens: s.maxTokens,
	}

	resp, err := s.complete(ctx, req)
	if err != nil {
		return p, err
	}

	res, err := ParseTriageResult(resp.Text)
	if err != nil {
		s.logger.Warn(ctx, "classification rejected",
			"ticket_id", p.Ticket.ID,
			"model", resp.Model,
			"error", err,
		)
		return p, err
	}

	s.logger.Info(ctx, "ticket classified",
		"ticket_id", p.Ticket.ID,
		"model", resp.Model,
		"priority", res.Priority,
		"category", res.Category,
		"confidence", res.ConfidenceScore,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return p.withOutcome(Triaged{Verdict: p.Verdict, Result: res}), nil
}

func (s *TriageStage) complete(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.classifier.Complete(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if s.hooks.OnClassify != nil {
		var model string
		var in, out int
		if resp != nil {
			model, in, out = resp.Model, resp.InputTokens, resp.OutputTokens
		}
		s.hooks.OnClassify(model, in, out, time.Since(start).Seconds(), err)
	}
	if err != nil {
		return nil, unavailable("classify", err)
	}
	return resp, nil
}

func buildSystemPrompt() string {
	return `You are an expert IT support triage agent. Read the support ticket and return one valid JSON object. Do not add any text before or after the JSON.
The JSON object must have exactly this structure:
{
  "priority": "...",
  "category": "...",
  "confidence_score": ...,
  "estimated_resolution_time": "...",
  "recommended_solution_steps": ["...", "..."]
}
- "priority" must be one of: "Low", "Medium", "High", "Critical".
- "category" must be a single concise string like "Network Connectivity" or "Software License".
- "confidence_score" must be an integer between 0 and 100 representing your confidence in the solution.
- "estimated_resolution_time" must be a string like "5-10 minutes" or "1-2 hours".
- "recommended_solution_steps" must be an array of short, actionable strings for a support agent. Provide at least 3 steps.`
}

func buildTriagePrompt(t *ticket.Ticket) string {
	var b strings.Builder
	b.WriteString("Please triage this ticket:\n\n")
	fmt.Fprintf(&b, "Title: %s\nDescription: %s", t.Title, t.Description)
	if t.Department != "" {
		fmt.Fprintf(&b, "\nDepartment: %s", t.Department)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(t.Tags, ", "))
	}
	return b.String()
}

// rawTriage mirrors the classifier contract; pointers detect missing fields.
type rawTriage struct {
	Priority                 *string   `json:"priority"`
	Category                 *string   `json:"category"`
	ConfidenceScore          *int      `json:"confidence_score"`
	EstimatedResolutionTime  *string   `json:"estimated_resolution_time"`
	RecommendedSolutionSteps *[]string `json:"recommended_solution_steps"`
}

// ParseTriageResult extracts the first JSON object from text and validates it
// against the classification contract. Values are never padded or coerced;
// every violation wraps ticket.ErrMalformedClassification.
func ParseTriageResult(text string) (TriageResult, error) {
	raw, err := firstJSONObject(text)
	if err != nil {
		return TriageResult{}, malformed("%v", err)
	}

	var r rawTriage
	if err := json.Unmarshal(raw, &r); err != nil {
		return TriageResult{}, malformed("decode: %v", err)
	}

	switch {
	case r.Priority == nil:
		return TriageResult{}, malformed("missing priority")
	case r.Category == nil:
		return TriageResult{}, malformed("missing category")
	case r.ConfidenceScore == nil:
		return TriageResult{}, malformed("missing confidence_score")
	case r.EstimatedResolutionTime == nil:
		return TriageResult{}, malformed("missing estimated_resolution_time")
	case r.RecommendedSolutionSteps == nil:
		return TriageResult{}, malformed("missing recommended_solution_steps")
	}

	prio := ticket.Priority(*r.Priority)
	if !prio.Valid() {
		return TriageResult{}, malformed("priority %q is not one of Low, Medium, High, Critical", *r.Priority)
	}
	if *r.ConfidenceScore < 0 || *r.ConfidenceScore > 100 {
		return TriageResult{}, malformed("confidence_score %d outside 0..100", *r.ConfidenceScore)
	}
	if strings.TrimSpace(*r.Category) == "" {
		return TriageResult{}, malformed("empty category")
	}
	if strings.TrimSpace(*r.EstimatedResolutionTime) == "" {
		return TriageResult{}, malformed("empty estimated_resolution_time")
	}

	steps := *r.RecommendedSolutionSteps
	for i, step := range steps {
		if strings.TrimSpace(step) == "" {
			return TriageResult{}, malformed("recommended_solution_steps[%d] is empty", i)
		}
	}
	if len(steps) < MinSolutionSteps {
		return TriageResult{}, malformed("%d recommended_solution_steps, need at least %d", len(steps), MinSolutionSteps)
	}

	return TriageResult{
		Priority:                 prio,
		Category:                 *r.Category,
		ConfidenceScore:          *r.ConfidenceScore,
		EstimatedResolutionTime:  *r.EstimatedResolutionTime,
		RecommendedSolutionSteps: steps,
	}, nil
}

// firstJSONObject returns the first complete JSON object in text, tolerating
// markdown fences and surrounding prose.
func firstJSONObject(text string) (json.RawMessage, error) {
	for i := strings.IndexByte(text, '{'); i >= 0; {
		dec := json.NewDecoder(bytes.NewReader([]byte(text[i:])))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, errors.New("no JSON object in response")
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ticket.ErrMalformedClassification, fmt.Sprintf(format, args...))
}
