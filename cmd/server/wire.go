package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	pc "github.com/linnemanlabs/priorityops/internal/cfg"
	"github.com/linnemanlabs/priorityops/internal/escalation"
	"github.com/linnemanlabs/priorityops/internal/events"
	"github.com/linnemanlabs/priorityops/internal/llm/claude"
	"github.com/linnemanlabs/priorityops/internal/llm/openai"
	"github.com/linnemanlabs/priorityops/internal/notify"
	"github.com/linnemanlabs/priorityops/internal/notify/redisbus"
	"github.com/linnemanlabs/priorityops/internal/notify/slack"
	"github.com/linnemanlabs/priorityops/internal/pipeline"
	"github.com/linnemanlabs/priorityops/internal/ticket"
	"github.com/linnemanlabs/priorityops/internal/ticket/memstore"
	"github.com/linnemanlabs/priorityops/internal/ticket/pgstore"
	"github.com/linnemanlabs/priorityops/internal/vectorindex/memindex"
	"github.com/linnemanlabs/priorityops/internal/vectorindex/weaviate"
)

const startupTimeout = 30 * time.Second

// eventBus is a transport that both publishes ticket events and feeds a handler.
type eventBus interface {
	events.Publisher
	Run(ctx context.Context, h events.Handler) error
}

func buildStore(ctx context.Context, L log.Logger, c pc.Config) (ticket.Store, func(), error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
	sctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	st, err := pgstore.New(sctx, c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return st, st.Close, nil
}

func buildIndex(ctx context.Context, L log.Logger, c pc.Config) (pipeline.VectorIndex, error) {
	if c.WeaviateURL == "" {
		L.Info(ctx, "using in-memory vector index (no weaviate-url configured)")
		return memindex.New(), nil
	}
	idx, err := weaviate.New(c.WeaviateURL, c.WeaviateClass)
	if err != nil {
		return nil, fmt.Errorf("weaviate init: %w", err)
	}
	sctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := idx.EnsureSchema(sctx); err != nil {
		return nil, fmt.Errorf("weaviate schema: %w", err)
	}
	L.Info(ctx, "using weaviate vector index", "url", c.WeaviateURL, "class", c.WeaviateClass)
	return idx, nil
}

func buildEmbedder(c pc.Config) pipeline.Embedder {
	return openai.New(openai.Config{
		APIKey:         c.OpenAIAPIKey,
		BaseURL:        c.OpenAIBaseURL,
		EmbeddingModel: c.EmbeddingModel,
		Dimensions:     c.EmbeddingDimensions,
		ChatModel:      c.OpenAIChatModel,
	})
}

func buildClassifier(c pc.Config) (pipeline.Classifier, error) {
	switch c.Classifier {
	case pc.ClassifierClaude:
		return claude.New(c.ClaudeAPIKey, c.ClaudeModel), nil
	case pc.ClassifierOpenAI:
		return openai.New(openai.Config{
			APIKey:    c.OpenAIAPIKey,
			BaseURL:   c.OpenAIBaseURL,
			ChatModel: c.OpenAIChatModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", c.Classifier)
	}
}

// buildRedis returns nil when no address is configured. An unreachable server
// is logged, not fatal; go-redis reconnects on use.
func buildRedis(ctx context.Context, L log.Logger, c pc.Config) *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		L.Warn(ctx, "unable to reach redis", "addr", c.RedisAddr, "error", err)
	} else {
		L.Info(ctx, "connected to redis", "addr", c.RedisAddr)
	}
	return client
}

func buildNotifier(ctx context.Context, L log.Logger, c pc.Config, rdb *redis.Client) escalation.Notifier {
	var ns notify.Multi
	if c.SlackWebhookURL != "" {
		ns = append(ns, slack.New(c.SlackWebhookURL, L))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	if rdb != nil {
		rn := redisbus.New(rdb, c.RedisNotifyChannel)
		ns = append(ns, rn)
		L.Info(ctx, "notifier enabled", "type", "redis", "channel", rn.Channel())
	}
	switch len(ns) {
	case 0:
		L.Info(ctx, "notifier enabled", "type", "log")
		return notify.Logger{L: L}
	case 1:
		return ns[0]
	default:
		return ns
	}
}

func buildEventBus(L log.Logger, c pc.Config, rdb *redis.Client) eventBus {
	if c.EventBus == pc.EventBusRedis && rdb != nil {
		return events.NewBus(rdb, c.EventChannel, c.EventWorkers, L)
	}
	return events.NewDispatcher(0, c.EventWorkers, L)
}
