// Package memindex is an in-process pipeline.VectorIndex for development and
// tests. It scores by cosine similarity with a brute-force scan.
package memindex

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
)

// Index holds one vector per ticket ID.
type Index struct {
	mu      sync.RWMutex
	records map[string]pipeline.VectorRecord
}

// New returns an empty Index.
func New() *Index {
	return &Index{records: make(map[string]pipeline.VectorRecord)}
}

// Upsert stores rec, replacing any earlier vector for the same ticket.
func (i *Index) Upsert(_ context.Context, rec pipeline.VectorRecord) error {
	if rec.TicketID == "" {
		return fmt.Errorf("memindex: empty ticket id")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("memindex: empty vector for ticket %s", rec.TicketID)
	}
	rec.Vector = slices.Clone(rec.Vector)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.records[rec.TicketID] = rec
	return nil
}

// Delete drops the record for ticketID, if any.
func (i *Index) Delete(_ context.Context, ticketID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.records, ticketID)
	return nil
}

// Search returns up to k neighbors ordered by descending similarity.
// Ties are broken by ticket ID so results are stable.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]pipeline.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	i.mu.RLock()
	out := make([]pipeline.Neighbor, 0, len(i.records))
	for _, rec := range i.records {
		if len(rec.Vector) != len(vector) {
			continue
		}
		out = append(out, pipeline.Neighbor{
			TicketID:    rec.TicketID,
			Score:       Cosine(vector, rec.Vector),
			Title:       rec.Title,
			Description: rec.Description,
			CreatedAt:   rec.CreatedAt,
		})
	}
	i.mu.RUnlock()

	slices.SortFunc(out, func(a, b pipeline.Neighbor) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.TicketID < b.TicketID:
			return -1
		case a.TicketID > b.TicketID:
			return 1
		}
		return 0
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len reports the number of indexed tickets.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.records)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for n := range a {
		x, y := float64(a[n]), float64(b[n])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
