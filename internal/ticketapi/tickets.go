package ticketapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/priorityops/internal/events"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxNameLen        = 100
	defaultListLimit  = 100
	maxListLimit      = 500
)

type createTicketRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Department  string   `json:"department"`
	Assignee    string   `json:"assignee"`
	Tags        []string `json:"tags"`
}

func (req *createTicketRequest) validate() error {
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		return fmt.Errorf("title is required")
	case utf8.RuneCountInString(req.Title) > maxTitleLen:
		return fmt.Errorf("title exceeds %d characters", maxTitleLen)
	case utf8.RuneCountInString(req.Description) > maxDescriptionLen:
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	case utf8.RuneCountInString(req.Department) > maxNameLen:
		return fmt.Errorf("department exceeds %d characters", maxNameLen)
	case utf8.RuneCountInString(req.Assignee) > maxNameLen:
		return fmt.Errorf("assignee exceeds %d characters", maxNameLen)
	}
	return nil
}

type createTicketResponse struct {
	ID     string        `json:"id"`
	Status ticket.Status `json:"status"`
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	now := time.Now().UTC()
	t := &ticket.Ticket{
		Title:       req.Title,
		Description: req.Description,
		// the triage stage assigns the real priority
		Priority:   ticket.PriorityMedium,
		Status:     ticket.StatusPending,
		Department: req.Department,
		Assignee:   req.Assignee,
		Tags:       req.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
		AuditTrail: []ticket.AuditEntry{{Timestamp: now, Agent: ticket.AgentAPI, Action: "Ticket created"}},
	}
	if err := a.tickets.Create(r.Context(), t); err != nil {
		a.logger.Error(r.Context(), err, "failed to create ticket")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("priorityops.ticket.id", t.ID))

	a.publish(r, events.TicketCreated(t.ID))

	writeJSON(w, http.StatusAccepted, createTicketResponse{ID: t.ID, Status: t.Status})
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*ticket.Ticket, bool) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("priorityops.ticket.id", id))

	t, ok, err := a.tickets.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get ticket", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	span.SetAttributes(attribute.String("priorityops.ticket.status", string(t.Status)))
	return t, true
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	if t, ok := a.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, t)
	}
}

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	t, ok := a.lookup(w, r)
	if !ok {
		return
	}
	trail := t.AuditTrail
	if trail == nil {
		trail = []ticket.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":   t.ID,
		"audit_trail": trail,
	})
}

// parseFilter reads status, priority and limit query parameters. Status and
// priority may repeat or be comma separated.
func parseFilter(r *http.Request) (ticket.Filter, error) {
	q := r.URL.Query()
	f := ticket.Filter{Limit: defaultListLimit}

	for _, s := range splitParams(q["status"]) {
		st := ticket.Status(s)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitParams(q["priority"]) {
		p := ticket.Priority(s)
		if !p.Valid() {
			return f, fmt.Errorf("unknown priority %q", s)
		}
		f.Priorities = append(f.Priorities, p)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}

func splitParams(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := a.tickets.Find(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list tickets")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": list,
		"count":   len(list),
	})
}
