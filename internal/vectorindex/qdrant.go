package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadOriginalIDField mirrors the teacher's PAYLOAD_ID_FIELD: Qdrant
// only accepts UUIDs or positive integers as point ids, so a
// non-UUID memory-unit id is mapped to a deterministic UUID and the
// original id is round-tripped through the payload.
const payloadOriginalIDField = "_original_id"

// QdrantIndex is the Qdrant-backed VectorIndex.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex dials Qdrant's gRPC API (default port 6334) and ensures
// the configured collection exists with the configured dimension and
// cosine distance, matching the scores-in-[0,1] contract in §4.3.
func NewQdrantIndex(ctx context.Context, dsn, collection string, dimension int) (*QdrantIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorindex: collection name required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: new client: %w", err)
	}
	q := &QdrantIndex{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorindex: ensure collection: %w", err)
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (q *QdrantIndex) Upsert(ctx context.Context, pointID string, vector []float32, payload Payload) error {
	uuidStr, remapped := pointIDFor(pointID)
	values := payloadToValueMap(payload)
	if remapped {
		values[payloadOriginalIDField] = pointID
	}
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(uuidStr),
		Vectors: qdrant.NewVectorsDense(vector),
		Payload: qdrant.NewValueMap(values),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) SetPayload(ctx context.Context, pointID string, patch Payload) error {
	uuidStr, _ := pointIDFor(pointID)
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Payload:        qdrant.NewValueMap(payloadToValueMap(patch)),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: set payload: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, pointID string) error {
	uuidStr, _ := pointIDFor(pointID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: delete: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	var qf *qdrant.Filter
	if filter.ProjectID != "" {
		qf = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("project_id", filter.ProjectID)}}
	}
	l := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &l,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHit{
			PointID: originalIDFromPayload(hit.Id, hit.Payload),
			Score:   float64(hit.Score),
			Payload: payloadFromValueMap(hit.Payload),
		})
	}
	return out, nil
}

func (q *QdrantIndex) Count(ctx context.Context, filter SearchFilter) (int, error) {
	var qf *qdrant.Filter
	if filter.ProjectID != "" {
		qf = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("project_id", filter.ProjectID)}}
	}
	exact := true
	resp, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection, Filter: qf, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("vectorindex: count: %w", err)
	}
	return int(resp), nil
}

func (q *QdrantIndex) Dimension() int { return q.dimension }

func (q *QdrantIndex) Close() error { return q.client.Close() }

func payloadToValueMap(p Payload) map[string]any {
	return map[string]any{
		"memory_unit_id":  p.MemoryUnitID,
		"project_id":      p.ProjectID,
		"unit_type":       p.UnitType,
		"title":           p.Title,
		"summary":         p.Summary,
		"keywords":        strings.Join(p.Keywords, ","),
		"created_at_unix": p.CreatedAtUnix,
		"relevance_score": p.RelevanceScore,
	}
}

func payloadFromValueMap(values map[string]*qdrant.Value) Payload {
	get := func(k string) string {
		if v, ok := values[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	var keywords []string
	if kw := get("keywords"); kw != "" {
		keywords = strings.Split(kw, ",")
	}
	return Payload{
		MemoryUnitID:   get("memory_unit_id"),
		ProjectID:      get("project_id"),
		UnitType:       get("unit_type"),
		Title:          get("title"),
		Summary:        get("summary"),
		Keywords:       keywords,
		CreatedAtUnix:  int64(values["created_at_unix"].GetIntegerValue()),
		RelevanceScore: values["relevance_score"].GetDoubleValue(),
	}
}

func originalIDFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) string {
	if payload != nil {
		if v, ok := payload[payloadOriginalIDField]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
		if v, ok := payload["memory_unit_id"]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.String()
}
