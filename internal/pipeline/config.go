package pipeline

import (
	"context"
	"time"
)

const (
	DefaultDuplicateThreshold = 0.9
	DefaultTopK               = 3
	DefaultCallTimeout        = 30 * time.Second
	DefaultClassifyTimeout    = 120 * time.Second
	DefaultMaxTokens          = 1024
)

// Config tunes the stages. Zero values fall back to the defaults above.
type Config struct {
	// DuplicateThreshold is the similarity a neighbor must strictly exceed.
	DuplicateThreshold float64
	TopK               int
	CallTimeout        time.Duration
	ClassifyTimeout    time.Duration
	MaxTokens          int
}

func (c Config) withDefaults() Config {
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Hooks receives callbacks at run milestones. Nil fields are skipped.
type Hooks struct {
	OnStage    func(stage string, duration float64, err error)
	OnClassify func(model string, inputTokens, outputTokens int, duration float64, err error)
	OnRun      func(e *RunEvent)
}

// RunEvent summarizes one finished run.
type RunEvent struct {
	// Result is "closed_duplicate", "triaged", "conflict" or "error".
	Result      string
	FailedStage string
	Duration    float64
}

func (h Hooks) stage(name string, start time.Time, err error) {
	if h.OnStage != nil {
		h.OnStage(name, time.Since(start).Seconds(), err)
	}
}
