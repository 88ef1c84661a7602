package ticketapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

type runRequest struct {
	TicketID string `json:"ticket_id"`
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ticket.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ticket.ErrMalformedClassification):
		return http.StatusBadGateway
	case errors.Is(err, ticket.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("priorityops.ticket.id", req.TicketID))

	res, err := a.pipeline.Run(r.Context(), req.TicketID)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error(r.Context(), err, "pipeline run failed", "ticket_id", req.TicketID)
		}
		writeJSON(w, status, errorBody{Error: err.Error(), Stage: pipeline.FailedStage(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := a.scanner.Scan(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "escalation scan failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
