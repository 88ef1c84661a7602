// Package ticketapi exposes tickets, pipeline runs and escalation scans over HTTP.
package ticketapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/priorityops/internal/escalation"
	"github.com/linnemanlabs/priorityops/internal/events"
	"github.com/linnemanlabs/priorityops/internal/pipeline"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

const maxBodyBytes = 64 << 10

// Tickets is the subset of ticket.Store the API reads and writes.
type Tickets interface {
	Get(ctx context.Context, id string) (*ticket.Ticket, bool, error)
	Create(ctx context.Context, t *ticket.Ticket) error
	Find(ctx context.Context, f ticket.Filter) ([]*ticket.Ticket, error)
	Update(ctx context.Context, id string, m *ticket.Mutation, entry ticket.AuditEntry) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// PipelineRunner runs the pipeline for one ticket.
type PipelineRunner interface {
	Run(ctx context.Context, ticketID string) (*pipeline.RunResult, error)
}

// Scanner runs one escalation scan.
type Scanner interface {
	Scan(ctx context.Context) (*escalation.ScanResult, error)
}

// Deps are the services behind the handlers. Events is optional; without it
// created tickets wait for an explicit pipeline run.
type Deps struct {
	Tickets  Tickets
	Pipeline PipelineRunner
	Scanner  Scanner
	Events   events.Publisher
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	tickets  Tickets
	pipeline PipelineRunner
	scanner  Scanner
	events   events.Publisher
}

// New creates a new API handler.
func New(logger log.Logger, d Deps) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if d.Tickets == nil {
		panic(xerrors.New("ticket store is required"))
	}
	if d.Pipeline == nil {
		panic(xerrors.New("pipeline runner is required"))
	}
	if d.Scanner == nil {
		panic(xerrors.New("escalation scanner is required"))
	}
	return &API{
		logger:   logger,
		tickets:  d.Tickets,
		pipeline: d.Pipeline,
		scanner:  d.Scanner,
		events:   d.Events,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tickets", a.handleCreateTicket)
		r.Get("/tickets", a.handleListTickets)
		r.Get("/tickets/{id}", a.handleGetTicket)
		r.Put("/tickets/{id}", a.handleUpdateTicket)
		r.Delete("/tickets/{id}", a.handleDeleteTicket)
		r.Get("/tickets/{id}/audit", a.handleGetAudit)
		r.Post("/pipeline/runs", a.handleRunPipeline)
		r.Post("/escalations/scan", a.handleScan)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
