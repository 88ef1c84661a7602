// Package weaviate implements pipeline.VectorIndex on a Weaviate class with
// externally supplied vectors and cosine distance.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
)

var tracer = otel.Tracer("github.com/linnemanlabs/priorityops/internal/vectorindex/weaviate")

// DefaultClass is the Weaviate class holding ticket vectors.
const DefaultClass = "SupportTicket"

// objectNamespace seeds deterministic object IDs so re-upserting a ticket
// overwrites its previous vector.
var objectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://linnemanlabs.com/priorityops/tickets"))

// Index is a Weaviate-backed vector index.
type Index struct {
	client *wv.Client
	class  string
}

// New creates an Index for the Weaviate server at rawURL.
func New(rawURL, class string) (*Index, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("weaviate url %q has no host", rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if class == "" {
		class = DefaultClass
	}
	client, err := wv.NewClient(wv.Config{Host: u.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	return &Index{client: client, class: class}, nil
}

// ClassSchema returns the class definition used by EnsureSchema.
func ClassSchema(class string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       class,
		Description: "Support ticket title/description embeddings for duplicate detection.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]any{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{
				Name:            "ticket_id",
				DataType:        []string{"text"},
				Description:     "Store ID of the ticket.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Ticket title at the time of indexing.",
			},
			{
				Name:        "description",
				DataType:    []string{"text"},
				Description: "Ticket description at the time of indexing.",
			},
			createdAtProperty(),
		},
	}
}

func createdAtProperty() *models.Property {
	return &models.Property{
		Name:        "created_at",
		DataType:    []string{"date"},
		Description: "Ticket creation time.",
	}
}

// EnsureSchema creates the class when it does not exist yet, and adds
// created_at to classes created before it existed.
func (i *Index) EnsureSchema(ctx context.Context) error {
	if existing, err := i.client.Schema().ClassGetter().WithClassName(i.class).Do(ctx); err == nil {
		if hasProperty(existing, "created_at") {
			return nil
		}
		if err := i.client.Schema().PropertyCreator().WithClassName(i.class).WithProperty(createdAtProperty()).Do(ctx); err != nil {
			return fmt.Errorf("add created_at to weaviate class %s: %w", i.class, err)
		}
		return nil
	}
	if err := i.client.Schema().ClassCreator().WithClass(ClassSchema(i.class)).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", i.class, err)
	}
	return nil
}

func hasProperty(c *models.Class, name string) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Properties {
		if p != nil && p.Name == name {
			return true
		}
	}
	return false
}

// ObjectID returns the deterministic Weaviate object ID for a ticket.
func ObjectID(ticketID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(ticketID)).String())
}

func (i *Index) objectFor(rec pipeline.VectorRecord) *models.Object {
	props := map[string]any{
		"ticket_id":   rec.TicketID,
		"title":       rec.Title,
		"description": rec.Description,
	}
	if !rec.CreatedAt.IsZero() {
		props["created_at"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return &models.Object{
		Class:      i.class,
		ID:         ObjectID(rec.TicketID),
		Vector:     rec.Vector,
		Properties: props,
	}
}

// Upsert writes rec, replacing any earlier vector for the same ticket.
func (i *Index) Upsert(ctx context.Context, rec pipeline.VectorRecord) error {
	ctx, span := tracer.Start(ctx, "weaviate.Upsert", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.String("priorityops.ticket.id", rec.TicketID),
	))
	defer span.End()

	resp, err := i.client.Batch().ObjectsBatcher().WithObjects(i.objectFor(rec)).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weaviate batch upsert: %w", err)
	}
	if err := batchError(resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Delete removes the ticket's object. A missing object is not an error.
func (i *Index) Delete(ctx context.Context, ticketID string) error {
	ctx, span := tracer.Start(ctx, "weaviate.Delete", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.String("priorityops.ticket.id", ticketID),
	))
	defer span.End()

	err := i.client.Data().Deleter().
		WithClassName(i.class).
		WithID(ObjectID(ticketID).String()).
		Do(ctx)
	if err != nil && !isNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weaviate delete: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var werr *fault.WeaviateClientError
	return errors.As(err, &werr) && werr.StatusCode == http.StatusNotFound
}

func batchError(resp []models.ObjectsGetResponse) error {
	var msgs []string
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil {
			continue
		}
		for _, e := range item.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("weaviate batch upsert: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Search returns up to k nearest tickets, most similar first.
// Score is 1 - cosine distance.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]pipeline.Neighbor, error) {
	ctx, span := tracer.Start(ctx, "weaviate.Search", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.Int("priorityops.search.k", k),
	))
	defer span.End()

	nearVector := i.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "ticket_id"},
		{Name: "title"},
		{Name: "description"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	resp, err := i.client.GraphQL().Get().
		WithClassName(i.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search: %w", err)
	}

	neighbors, err := parseSearchResponse(resp, i.class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("priorityops.search.hits", len(neighbors)))
	return neighbors, nil
}

type searchHit struct {
	TicketID    string `json:"ticket_id"`
	Title       string `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Additional  struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

type searchResponse struct {
	Get map[string][]searchHit `json:"Get"`
}

func parseSearchResponse(resp *models.GraphQLResponse, class string) ([]pipeline.Neighbor, error) {
	if resp == nil {
		return nil, errors.New("weaviate search: nil response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate search: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: marshal data: %w", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("weaviate search: decode data: %w", err)
	}

	hits := parsed.Get[class]
	out := make([]pipeline.Neighbor, 0, len(hits))
	for _, h := range hits {
		out = append(out, pipeline.Neighbor{
			TicketID:    h.TicketID,
			Score:       1 - h.Additional.Distance,
			Title:       h.Title,
			Description: h.Description,
			CreatedAt:   h.CreatedAt,
		})
	}
	return out, nil
}
