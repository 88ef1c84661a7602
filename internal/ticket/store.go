package ticket

import "context"

// Store is the persistence interface for tickets.
//
// Update applies m and appends entry in a single atomic operation and returns
// the number of tickets matched (0 or 1). A ticket that does not exist or whose
// status does not satisfy m.ExpectStatus yields zero matches and no error.
//
// Delete removes a ticket and reports whether it existed.
type Store interface {
	Get(ctx context.Context, id string) (*Ticket, bool, error)
	Create(ctx context.Context, t *Ticket) error
	Update(ctx context.Context, id string, m *Mutation, entry AuditEntry) (matched int64, err error)
	Find(ctx context.Context, f Filter) ([]*Ticket, error)
	Delete(ctx context.Context, id string) (bool, error)
}
