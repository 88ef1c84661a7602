package pipeline

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// mockEmbedder returns the same vector for every text.
type mockEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	block bool
	texts []string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.vec, nil
}

// mockIndex keeps upserted records and answers searches with every record
// (score 1.0, identical vectors) plus a fixed list of extra neighbors.
type mockIndex struct {
	mu        sync.Mutex
	records   map[string]VectorRecord
	extra     []Neighbor
	upsertErr error
	searchErr error
	upserts   int
	searchK   []int
	calls     []string
}

func newMockIndex(extra ...Neighbor) *mockIndex {
	return &mockIndex{records: make(map[string]VectorRecord), extra: extra}
}

func (m *mockIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *mockIndex) Upsert(_ context.Context, rec VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "upsert")
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.records[rec.TicketID] = rec
	return nil
}

func (m *mockIndex) Search(_ context.Context, _ []float32, k int) ([]Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "search")
	m.searchK = append(m.searchK, k)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	out := slices.Clone(m.extra)
	for id, rec := range m.records {
		out = append(out, Neighbor{TicketID: id, Score: 1.0, Title: rec.Title, Description: rec.Description, CreatedAt: rec.CreatedAt})
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int { return cmp.Compare(b.Score, a.Score) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// mockClassifier returns preconfigured responses in sequence.
type mockClassifier struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	requests  []*ClassifyRequest
}

func (m *mockClassifier) Complete(_ context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	text := validTriageJSON
	if idx < len(m.responses) {
		text = m.responses[idx]
	}
	return &ClassifyResponse{Text: text, Model: "test-model", InputTokens: 120, OutputTokens: 80}, nil
}

func (m *mockClassifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

const validTriageJSON = `{
  "priority": "High",
  "category": "Network Connectivity",
  "confidence_score": 87,
  "estimated_resolution_time": "1-2 hours",
  "recommended_solution_steps": ["Check VPN client version", "Restart the VPN service", "Re-issue the user certificate"]
}`

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	ticket.Store
	getErr    error
	updateErr error
}

func (f *failingStore) Get(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.Store.Get(ctx, id)
}

func (f *failingStore) Update(ctx context.Context, id string, m *ticket.Mutation, e ticket.AuditEntry) (int64, error) {
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	return f.Store.Update(ctx, id, m, e)
}
