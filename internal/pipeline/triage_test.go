package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

func TestParseTriageResult_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"bare object", validTriageJSON},
		{"json fence", "```json\n" + validTriageJSON + "\n```"},
		{"surrounding prose", "Here is the triage:\n" + validTriageJSON + "\nLet me know if you need more."},
		{"brace in prose before object", "Result {see below}\n" + validTriageJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := ParseTriageResult(tt.text)
			if err != nil {
				t.Fatalf("ParseTriageResult: %v", err)
			}
			if r.Priority != ticket.PriorityHigh {
				t.Errorf("Priority = %q, want %q", r.Priority, ticket.PriorityHigh)
			}
			if r.Category != "Network Connectivity" {
				t.Errorf("Category = %q, want %q", r.Category, "Network Connectivity")
			}
			if r.ConfidenceScore != 87 {
				t.Errorf("ConfidenceScore = %d, want 87", r.ConfidenceScore)
			}
			if r.EstimatedResolutionTime != "1-2 hours" {
				t.Errorf("EstimatedResolutionTime = %q, want %q", r.EstimatedResolutionTime, "1-2 hours")
			}
			if len(r.RecommendedSolutionSteps) != 3 {
				t.Errorf("steps = %d, want 3", len(r.RecommendedSolutionSteps))
			}
		})
	}
}

func TestParseTriageResult_Malformed(t *testing.T) {
	t.Parallel()

	steps := `["a","b","c"]`
	obj := func(prio, cat, conf, est, st string) string {
		var parts []string
		if prio != "" {
			parts = append(parts, `"priority":`+prio)
		}
		if cat != "" {
			parts = append(parts, `"category":`+cat)
		}
		if conf != "" {
			parts = append(parts, `"confidence_score":`+conf)
		}
		if est != "" {
			parts = append(parts, `"estimated_resolution_time":`+est)
		}
		if st != "" {
			parts = append(parts, `"recommended_solution_steps":`+st)
		}
		return "{" + strings.Join(parts, ",") + "}"
	}

	tests := []struct {
		name string
		text string
	}{
		{"not json", "I cannot help with that."},
		{"empty", ""},
		{"truncated", `{"priority": "High", "category": "Net`},
		{"missing priority", obj("", `"Net"`, "50", `"1h"`, steps)},
		{"missing category", obj(`"High"`, "", "50", `"1h"`, steps)},
		{"missing confidence", obj(`"High"`, `"Net"`, "", `"1h"`, steps)},
		{"missing estimate", obj(`"High"`, `"Net"`, "50", "", steps)},
		{"missing steps", obj(`"High"`, `"Net"`, "50", `"1h"`, "")},
		{"null steps", obj(`"High"`, `"Net"`, "50", `"1h"`, "null")},
		{"lowercase priority", obj(`"high"`, `"Net"`, "50", `"1h"`, steps)},
		{"unknown priority", obj(`"Urgent"`, `"Net"`, "50", `"1h"`, steps)},
		{"priority wrong type", obj("3", `"Net"`, "50", `"1h"`, steps)},
		{"confidence as string", obj(`"High"`, `"Net"`, `"50"`, `"1h"`, steps)},
		{"confidence fractional", obj(`"High"`, `"Net"`, "0.87", `"1h"`, steps)},
		{"confidence above range", obj(`"High"`, `"Net"`, "101", `"1h"`, steps)},
		{"confidence below range", obj(`"High"`, `"Net"`, "-1", `"1h"`, steps)},
		{"empty category", obj(`"High"`, `"  "`, "50", `"1h"`, steps)},
		{"empty estimate", obj(`"High"`, `"Net"`, "50", `""`, steps)},
		{"two steps", obj(`"High"`, `"Net"`, "50", `"1h"`, `["a","b"]`)},
		{"zero steps", obj(`"High"`, `"Net"`, "50", `"1h"`, `[]`)},
		{"blank step", obj(`"High"`, `"Net"`, "50", `"1h"`, `["a","","c"]`)},
		{"steps not strings", obj(`"High"`, `"Net"`, "50", `"1h"`, `[1,2,3]`)},
		{"steps as string", obj(`"High"`, `"Net"`, "50", `"1h"`, `"a, b, c"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseTriageResult(tt.text)
			if !errors.Is(err, ticket.ErrMalformedClassification) {
				t.Errorf("ParseTriageResult(%q) err = %v, want ErrMalformedClassification", tt.text, err)
			}
		})
	}
}

func TestTriageStage_DuplicateSkipsClassifier(t *testing.T) {
	t.Parallel()

	cls := &mockClassifier{}
	stage := NewTriageStage(cls, Config{}, log.Nop(), Hooks{})

	v := Verdict{IsDuplicate: true, DuplicateOf: "t-orig", Score: 0.97}
	p, err := stage.Triage(context.Background(), Payload{Ticket: testTicket(), Verdict: v})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if cls.callCount() != 0 {
		t.Errorf("classifier calls = %d, want 0", cls.callCount())
	}
	d, ok := p.Outcome.(Duplicate)
	if !ok {
		t.Fatalf("Outcome = %T, want Duplicate", p.Outcome)
	}
	if d.Verdict != v {
		t.Errorf("Verdict = %+v, want %+v", d.Verdict, v)
	}
}

func TestTriageStage_Classifies(t *testing.T) {
	t.Parallel()

	cls := &mockClassifier{}
	var hookModel string
	var hookIn, hookOut int
	stage := NewTriageStage(cls, Config{}, log.Nop(), Hooks{
		OnClassify: func(model string, in, out int, _ float64, err error) {
			if err != nil {
				t.Errorf("OnClassify err = %v", err)
			}
			hookModel, hookIn, hookOut = model, in, out
		},
	})

	p, err := stage.Triage(context.Background(), Payload{Ticket: testTicket()})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	tr, ok := p.Outcome.(Triaged)
	if !ok {
		t.Fatalf("Outcome = %T, want Triaged", p.Outcome)
	}
	if tr.Result.Priority != ticket.PriorityHigh {
		t.Errorf("Priority = %q, want High", tr.Result.Priority)
	}

	req := cls.requests[0]
	if !strings.Contains(req.Prompt, "Title: VPN disconnects") {
		t.Errorf("prompt missing title: %q", req.Prompt)
	}
	if !strings.Contains(req.System, `"recommended_solution_steps"`) {
		t.Error("system prompt missing output contract")
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
	}
	if hookModel != "test-model" || hookIn != 120 || hookOut != 80 {
		t.Errorf("hook got model=%q in=%d out=%d", hookModel, hookIn, hookOut)
	}
}

func TestTriageStage_ClassifierErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	var hookErr error
	stage := NewTriageStage(&mockClassifier{err: errors.New("503 overloaded")}, Config{}, log.Nop(), Hooks{
		OnClassify: func(_ string, _, _ int, _ float64, err error) { hookErr = err },
	})

	_, err := stage.Triage(context.Background(), Payload{Ticket: testTicket()})
	if !errors.Is(err, ticket.ErrServiceUnavailable) {
		t.Errorf("err = %v, want ErrServiceUnavailable", err)
	}
	if hookErr == nil {
		t.Error("OnClassify not told about failure")
	}
}

func TestTriageStage_MalformedResponse(t *testing.T) {
	t.Parallel()

	stage := NewTriageStage(&mockClassifier{responses: []string{`{"priority":"High"}`}}, Config{}, log.Nop(), Hooks{})
	p, err := stage.Triage(context.Background(), Payload{Ticket: testTicket()})
	if !errors.Is(err, ticket.ErrMalformedClassification) {
		t.Errorf("err = %v, want ErrMalformedClassification", err)
	}
	if p.Outcome != nil {
		t.Errorf("Outcome = %T, want nil on failure", p.Outcome)
	}
}

func TestBuildTriagePrompt_IncludesContext(t *testing.T) {
	t.Parallel()

	tk := testTicket()
	tk.Department = "Sales"
	tk.Tags = []string{"remote", "vpn"}
	got := buildTriagePrompt(tk)
	for _, want := range []string{"Please triage this ticket:", "Description: VPN drops", "Department: Sales", "Tags: remote, vpn"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
