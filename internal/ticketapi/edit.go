package ticketapi

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/priorityops/internal/events"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// updateTicketRequest carries the fields a client may change. Absent fields
// are left as they are.
type updateTicketRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Priority    *ticket.Priority `json:"priority"`
	Status      *ticket.Status   `json:"status"`
	Department  *string          `json:"department"`
	Assignee    *string          `json:"assignee"`
	Tags        []string         `json:"tags"`
}

func (req *updateTicketRequest) validate() error {
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}
	switch {
	case req.Title == nil && req.Description == nil && req.Priority == nil && req.Status == nil &&
		req.Department == nil && req.Assignee == nil && req.Tags == nil:
		return fmt.Errorf("no fields to update")
	case req.Title != nil && *req.Title == "":
		return fmt.Errorf("title must not be empty")
	case req.Title != nil && utf8.RuneCountInString(*req.Title) > maxTitleLen:
		return fmt.Errorf("title exceeds %d characters", maxTitleLen)
	case req.Description != nil && utf8.RuneCountInString(*req.Description) > maxDescriptionLen:
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	case req.Department != nil && utf8.RuneCountInString(*req.Department) > maxNameLen:
		return fmt.Errorf("department exceeds %d characters", maxNameLen)
	case req.Assignee != nil && utf8.RuneCountInString(*req.Assignee) > maxNameLen:
		return fmt.Errorf("assignee exceeds %d characters", maxNameLen)
	case req.Priority != nil && !req.Priority.Valid():
		return fmt.Errorf("unknown priority %q", *req.Priority)
	case req.Status != nil && !req.Status.Valid():
		return fmt.Errorf("unknown status %q", *req.Status)
	}
	return nil
}

// fields lists the names of the fields present in the request.
func (req *updateTicketRequest) fields() []string {
	var out []string
	for name, set := range map[string]bool{
		"title":       req.Title != nil,
		"description": req.Description != nil,
		"priority":    req.Priority != nil,
		"status":      req.Status != nil,
		"department":  req.Department != nil,
		"assignee":    req.Assignee != nil,
		"tags":        req.Tags != nil,
	} {
		if set {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// auditEntry records the update. A status change is recorded with its old
// and new values.
func (req *updateTicketRequest) auditEntry(cur *ticket.Ticket, at time.Time) ticket.AuditEntry {
	entry := ticket.AuditEntry{
		Timestamp: at,
		Agent:     ticket.AgentAPI,
		Action:    "Ticket updated: " + strings.Join(req.fields(), ", "),
	}
	if req.Status != nil && *req.Status != cur.Status {
		entry.Field = "status"
		entry.OldValue = string(cur.Status)
		entry.NewValue = string(*req.Status)
	}
	return entry
}

func (req *updateTicketRequest) mutation(cur ticket.Status) *ticket.Mutation {
	return &ticket.Mutation{
		ExpectStatus: []ticket.Status{cur},
		Status:       req.Status,
		Priority:     req.Priority,
		Title:        req.Title,
		Description:  req.Description,
		Department:   req.Department,
		Assignee:     req.Assignee,
		Tags:         req.Tags,
	}
}

func (a *API) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	cur, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx := r.Context()
	matched, err := a.tickets.Update(ctx, cur.ID, req.mutation(cur.Status), req.auditEntry(cur, time.Now().UTC()))
	if err != nil {
		a.logger.Error(ctx, err, "failed to update ticket", "ticket_id", cur.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if matched == 0 {
		// deleted or moved to another status since the lookup
		writeError(w, http.StatusConflict, "ticket changed concurrently, retry")
		return
	}

	updated, found, err := a.tickets.Get(ctx, cur.ID)
	if err == nil && !found {
		err = ticket.ErrNotFound
	}
	if err != nil {
		a.logger.Error(ctx, err, "failed to reload updated ticket", "ticket_id", cur.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.publish(r, events.TicketUpdated(cur.ID))
	writeJSON(w, http.StatusOK, updated)
}

type deleteTicketResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (a *API) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	cur, ok := a.lookup(w, r)
	if !ok {
		return
	}
	deleted, err := a.tickets.Delete(r.Context(), cur.ID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to delete ticket", "ticket_id", cur.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	a.publish(r, events.TicketDeleted(cur.ID))
	writeJSON(w, http.StatusOK, deleteTicketResponse{ID: cur.ID, Deleted: true})
}

// publish emits ev when an event publisher is configured. Failures are
// logged; the request has already succeeded.
func (a *API) publish(r *http.Request, ev events.Event) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(r.Context(), ev); err != nil {
		a.logger.Error(r.Context(), err, "failed to publish "+ev.Type, "ticket_id", ev.TicketID)
	}
}
