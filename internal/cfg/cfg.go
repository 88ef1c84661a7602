// Package cfg holds the priorityops server settings.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Classifier providers.
const (
	ClassifierClaude = "claude"
	ClassifierOpenAI = "openai"
)

// Event bus transports.
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL   string
	WeaviateURL   string
	WeaviateClass string

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbeddingModel      string
	EmbeddingDimensions int
	OpenAIChatModel     string

	Classifier   string
	ClaudeAPIKey string
	ClaudeModel  string

	DuplicateThreshold float64
	TopK               int
	CallTimeout        time.Duration
	ClassifyTimeout    time.Duration

	SLAWindow    time.Duration
	ScanInterval time.Duration

	SlackWebhookURL    string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisNotifyChannel string

	EventBus     string
	EventChannel string
	EventWorkers int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api routes (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.WeaviateURL, "weaviate-url", "", "Weaviate base URL (empty = in-memory vector index)")
	fs.StringVar(&c.WeaviateClass, "weaviate-class", "SupportTicket", "Weaviate class holding ticket vectors")

	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key used for embeddings (and classification when classifier=openai)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-3-small", "embedding model")
	fs.IntVar(&c.EmbeddingDimensions, "embedding-dimensions", 0, "expected embedding dimensions (0 = model default, unchecked)")
	fs.StringVar(&c.OpenAIChatModel, "openai-chat-model", "gpt-4o-mini", "OpenAI chat model used when classifier=openai")

	fs.StringVar(&c.Classifier, "classifier", ClassifierClaude, "classification provider (claude|openai)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.Float64Var(&c.DuplicateThreshold, "duplicate-threshold", 0.9, "similarity above which a ticket is a duplicate (0 < t <= 1)")
	fs.IntVar(&c.TopK, "duplicate-top-k", 3, "neighbors fetched per similarity search (1..100)")
	fs.DurationVar(&c.CallTimeout, "call-timeout", 30*time.Second, "timeout for each store, embedding and vector call")
	fs.DurationVar(&c.ClassifyTimeout, "classify-timeout", 120*time.Second, "timeout for each classification call")

	fs.DurationVar(&c.SLAWindow, "sla-window", time.Hour, "time an Open High/Critical ticket may go without update before escalation")
	fs.DurationVar(&c.ScanInterval, "scan-interval", 5*time.Minute, "escalation scan interval (>= 1s)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address host:port (empty = no redis)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&c.RedisNotifyChannel, "redis-notify-channel", "priorityops:escalations", "Redis channel for escalation notifications")

	fs.StringVar(&c.EventBus, "event-bus", EventBusMemory, "ticket event transport (memory|redis)")
	fs.StringVar(&c.EventChannel, "event-channel", "priorityops:events", "Redis channel for ticket events")
	fs.IntVar(&c.EventWorkers, "event-workers", 4, "concurrent pipeline runs from ticket events (1..64)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.WeaviateURL != "" {
		if u, err := url.Parse(c.WeaviateURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid WEAVIATE_URL %q", c.WeaviateURL))
		}
		if c.WeaviateClass == "" {
			errs = append(errs, errors.New("WEAVIATE_CLASS is required with WEAVIATE_URL"))
		}
	}

	// embeddings always come from OpenAI
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EMBEDDING_MODEL is required"))
	}
	if c.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIMENSIONS %d (must be >= 0)", c.EmbeddingDimensions))
	}

	switch c.Classifier {
	case ClassifierClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	case ClassifierOpenAI:
		if c.OpenAIChatModel == "" {
			errs = append(errs, errors.New("OPENAI_CHAT_MODEL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER %q (must be claude or openai)", c.Classifier))
	}

	if !(c.DuplicateThreshold > 0 && c.DuplicateThreshold <= 1) {
		errs = append(errs, fmt.Errorf("invalid DUPLICATE_THRESHOLD %v (must be 0 < t <= 1)", c.DuplicateThreshold))
	}
	if c.TopK < 1 || c.TopK > 100 {
		errs = append(errs, fmt.Errorf("invalid DUPLICATE_TOP_K %d (must be 1..100)", c.TopK))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid CALL_TIMEOUT %s (must be > 0)", c.CallTimeout))
	}
	if c.ClassifyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFY_TIMEOUT %s (must be > 0)", c.ClassifyTimeout))
	}
	if c.SLAWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid SLA_WINDOW %s (must be > 0)", c.SLAWindow))
	}
	if c.ScanInterval < time.Second {
		errs = append(errs, fmt.Errorf("invalid SCAN_INTERVAL %s (must be >= 1s)", c.ScanInterval))
	}

	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}
	switch c.EventBus {
	case EventBusMemory:
	case EventBusRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when EVENT_BUS=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid EVENT_BUS %q (must be memory or redis)", c.EventBus))
	}
	if c.EventWorkers < 1 || c.EventWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid EVENT_WORKERS %d (must be 1..64)", c.EventWorkers))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
