// Package vectorstore implements the Vector Store Effect (spec.md §4.8),
// adapted from internal/persistence/databases/qdrant_vector.go, extended
// with multi-collection routing, construction-time dimension enforcement,
// a min_similarity filter, and deterministic tie-break by chunk ID.
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"intelkernel/internal/nodekit"
)

// Result is one similarity search hit.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore is the Effect node contract for embedding persistence and
// similarity search, routed across named collections.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, collection, id string) error
	SimilaritySearch(ctx context.Context, collection string, vector []float32, k int, minSimilarity float64, filter map[string]string) ([]Result, error)
	Dimension(collection string) int
}

// payloadIDField stores the caller-supplied non-UUID ID, grounded on
// qdrant_vector.go's PAYLOAD_ID_FIELD.
const payloadIDField = "_original_id"

// Qdrant routes each named collection to its own Qdrant collection.
// Declare creates the collection, if it does not exist, with the given
// dimension; Upsert does not create collections.
type Qdrant struct {
	client *qdrant.Client
	metric string
	dims   map[string]int
}

// NewQdrant parses dsn and returns a Qdrant vector store ready to route
// collections. Each collection's dimension is declared via Declare before
// first use.
func NewQdrant(dsn, metric string) (*Qdrant, error) {
	const op = "vectorstore.NewQdrant"
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, nodekit.Invalid(op, fmt.Errorf("parse Qdrant DSN: %w", err))
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, nodekit.Invalid(op, fmt.Errorf("invalid port in Qdrant DSN: %w", err))
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, nodekit.Transient(op, fmt.Errorf("create Qdrant client: %w", err))
	}
	return &Qdrant{client: client, metric: strings.ToLower(strings.TrimSpace(metric)), dims: map[string]int{}}, nil
}

// Declare ensures collection exists with dimension dims, and records the
// expected dimension for future PreconditionViolated checks on Upsert.
func (q *Qdrant) Declare(ctx context.Context, collection string, dims int) error {
	const op = "vectorstore.Declare"
	if dims <= 0 {
		return nodekit.Invalid(op, fmt.Errorf("dimensions must be > 0"))
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return nodekit.Transient(op, err)
	}
	if !exists {
		var distance qdrant.Distance
		switch q.metric {
		case "l2", "euclidean":
			distance = qdrant.Distance_Euclid
		case "ip", "dot":
			distance = qdrant.Distance_Dot
		case "manhattan":
			distance = qdrant.Distance_Manhattan
		default:
			distance = qdrant.Distance_Cosine
		}
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(dims), Distance: distance}),
		}); err != nil {
			return nodekit.Transient(op, fmt.Errorf("create collection: %w", err))
		}
	}
	q.dims[collection] = dims
	return nil
}

func (q *Qdrant) Dimension(collection string) int { return q.dims[collection] }

func toPointID(id string) (pointID string, wasRemapped bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert fails with PreconditionViolated if vector's length does not
// match the collection's declared dimension (spec.md §4.8).
func (q *Qdrant) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	const op = "vectorstore.Upsert"
	if dim, ok := q.dims[collection]; ok && dim != len(vector) {
		return nodekit.Precondition(op, fmt.Errorf("vector dimension %d does not match collection %q dimension %d", len(vector), collection, dim))
	}
	uuidStr, remapped := toPointID(id)
	metadataAny := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		metadataAny[k] = v
	}
	if remapped {
		metadataAny[payloadIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(uuidStr),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(metadataAny),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	if err != nil {
		return nodekit.Transient(op, err)
	}
	return nil
}

func (q *Qdrant) Delete(ctx context.Context, collection, id string) error {
	const op = "vectorstore.Delete"
	uuidStr, _ := toPointID(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return nodekit.Transient(op, err)
	}
	return nil
}

// SimilaritySearch returns up to k hits scoring at or above minSimilarity,
// tie-broken deterministically by ID ascending (spec.md §8's fusion
// determinism property, applied here to raw similarity search).
func (q *Qdrant) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int, minSimilarity float64, filter map[string]string) ([]Result, error) {
	const op = "vectorstore.SimilaritySearch"
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, nodekit.Transient(op, err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		score := float64(hit.Score)
		if score < minSimilarity {
			continue
		}
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := map[string]string{}
		var originalID string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		results = append(results, Result{ID: id, Score: score, Metadata: metadata})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (q *Qdrant) Close() error { return q.client.Close() }
