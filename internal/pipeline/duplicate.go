package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// Deduplicator decides whether the payload's ticket repeats an earlier one.
type Deduplicator interface {
	Detect(ctx context.Context, p Payload) (Payload, error)
}

// DuplicateStage embeds the ticket, records it in the vector index and
// compares it against its nearest neighbors.
type DuplicateStage struct {
	embedder  Embedder
	index     VectorIndex
	threshold float64
	topK      int
	timeout   time.Duration
	logger    log.Logger
}

// NewDuplicateStage builds the duplicate detection stage.
func NewDuplicateStage(embedder Embedder, index VectorIndex, cfg Config, logger log.Logger) *DuplicateStage {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	return &DuplicateStage{
		embedder:  embedder,
		index:     index,
		threshold: cfg.DuplicateThreshold,
		topK:      cfg.TopK,
		timeout:   cfg.CallTimeout,
		logger:    logger,
	}
}

// EmbeddingText is the text embedded for a ticket.
func EmbeddingText(title, description string) string {
	return fmt.Sprintf("Title: %s\nDescription: %s", title, description)
}

// Detect sets p.Verdict. The ticket's own vector is upserted before the
// search, so self-matches are expected and skipped.
func (s *DuplicateStage) Detect(ctx context.Context, p Payload) (Payload, error) {
	t := p.Ticket
	if t == nil {
		return p, fmt.Errorf("%w: payload has no ticket", ticket.ErrInvalidInput)
	}
	if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Description) == "" {
		return p, fmt.Errorf("%w: ticket %s is missing title or description", ticket.ErrInvalidInput, t.ID)
	}

	vec, err := s.embed(ctx, EmbeddingText(t.Title, t.Description))
	if err != nil {
		return p, err
	}

	if err := s.upsert(ctx, VectorRecord{TicketID: t.ID, Title: t.Title, Description: t.Description, CreatedAt: t.CreatedAt, Vector: vec}); err != nil {
		return p, err
	}

	neighbors, err := s.search(ctx, vec)
	if err != nil {
		return p, err
	}

	v := decide(t.ID, t.CreatedAt, neighbors, s.threshold)
	s.logger.Info(ctx, "duplicate check complete",
		"ticket_id", t.ID,
		"neighbors", len(neighbors),
		"is_duplicate", v.IsDuplicate,
		"duplicate_of", v.DuplicateOf,
		"score", v.Score,
	)
	return p.withVerdict(v), nil
}

func (s *DuplicateStage) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, unavailable("embed", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embed: empty vector", ticket.ErrServiceUnavailable)
	}
	return vec, nil
}

func (s *DuplicateStage) upsert(ctx context.Context, rec VectorRecord) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.index.Upsert(ctx, rec); err != nil {
		return unavailable("vector upsert", err)
	}
	return nil
}

func (s *DuplicateStage) search(ctx context.Context, vec []float32) ([]Neighbor, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	neighbors, err := s.index.Search(ctx, vec, s.topK)
	if err != nil {
		return nil, unavailable("vector search", err)
	}
	return neighbors, nil
}

// decide returns the first non-self neighbor, by descending score, whose
// score strictly exceeds threshold. Without one, Score is the best non-self
// score seen. Neighbors created after the ticket are never candidates, so
// re-running an original cannot close it against its own duplicate.
func decide(selfID string, selfCreated time.Time, neighbors []Neighbor, threshold float64) Verdict {
	sorted := slices.Clone(neighbors)
	slices.SortStableFunc(sorted, func(a, b Neighbor) int {
		return cmp.Compare(b.Score, a.Score)
	})

	for _, n := range sorted {
		if n.TicketID == selfID || newer(n, selfID, selfCreated) {
			continue
		}
		if n.Score > threshold {
			return Verdict{IsDuplicate: true, DuplicateOf: n.TicketID, Score: n.Score}
		}
		return Verdict{Score: n.Score}
	}
	return Verdict{}
}

// newer reports whether n was created after the ticket selfID. Equal
// timestamps fall back to ID order; unknown times are never newer.
func newer(n Neighbor, selfID string, selfCreated time.Time) bool {
	if n.CreatedAt.IsZero() || selfCreated.IsZero() {
		return false
	}
	if n.CreatedAt.Equal(selfCreated) {
		return n.TicketID > selfID
	}
	return n.CreatedAt.After(selfCreated)
}
