package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload field names. Kept flat and string-keyed; the typed Metadata
// form exists everywhere else in the core.
const (
	fieldKey           = "key"
	fieldDocumentID    = "document_id"
	fieldDocumentTitle = "document_title"
	fieldParentChunkID = "parent_chunk_id"
	fieldText          = "text"
	fieldParentIndex   = "parent_index"
	fieldChildIndex    = "child_index"
	fieldCategory      = "category"
	fieldPatientOwned  = "patient_owned"
	fieldPatientID     = "patient_id"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection if it does not already exist
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert inserts or overwrites entries, keyed deterministically
func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(entry.Key)),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: payloadFromMetadata(entry.Key, entry.Metadata),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Query performs similarity search with the given filter
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		key, meta := metadataFromPayload(point.Payload)
		hits = append(hits, Hit{
			Key:      key,
			Score:    point.Score,
			Metadata: meta,
		})
	}
	return hits, nil
}

// DeleteByKeys removes entries by their deterministic keys
func (s *QdrantStore) DeleteByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(keys))
	for i, key := range keys {
		pointIDs[i] = qdrant.NewIDUUID(pointID(key))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by keys: %w", err)
	}
	return nil
}

// pointID maps the deterministic child-chunk key to a UUID, since Qdrant
// point ids must be UUIDs or integers. UUIDv5 keeps the mapping stable
// across re-ingestions.
func pointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// buildFilter translates the typed filter into a Qdrant filter
func buildFilter(filter Filter) *qdrant.Filter {
	var must, mustNot []*qdrant.Condition

	if len(filter.Categories) > 0 {
		keywords := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			keywords[i] = string(c)
		}
		must = append(must, qdrant.NewMatchKeywords(fieldCategory, keywords...))
	}

	if filter.PatientID != "" {
		must = append(must,
			qdrant.NewMatchBool(fieldPatientOwned, true),
			qdrant.NewMatch(fieldPatientID, filter.PatientID))
	} else if filter.ExcludePatientData {
		mustNot = append(mustNot, qdrant.NewMatchBool(fieldPatientOwned, true))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

// payloadFromMetadata serializes the typed metadata at the store boundary
func payloadFromMetadata(key string, m Metadata) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldKey:           qdrant.NewValueString(key),
		fieldDocumentID:    qdrant.NewValueString(m.DocumentID.String()),
		fieldDocumentTitle: qdrant.NewValueString(m.DocumentTitle),
		fieldParentChunkID: qdrant.NewValueString(m.ParentChunkID.String()),
		fieldText:          qdrant.NewValueString(m.Text),
		fieldParentIndex:   qdrant.NewValueInt(int64(m.ParentIndex)),
		fieldChildIndex:    qdrant.NewValueInt(int64(m.ChildIndex)),
		fieldCategory:      qdrant.NewValueString(string(m.Category)),
		fieldPatientOwned:  qdrant.NewValueBool(m.PatientOwned),
	}
	if m.PatientID != "" {
		payload[fieldPatientID] = qdrant.NewValueString(m.PatientID)
	}
	return payload
}

// metadataFromPayload parses a payload back into typed metadata. Missing
// or malformed fields yield zero values; callers drop hits without a
// parent reference.
func metadataFromPayload(payload map[string]*qdrant.Value) (string, Metadata) {
	var key string
	var m Metadata

	if v, ok := payload[fieldKey]; ok {
		key = v.GetStringValue()
	}
	if v, ok := payload[fieldDocumentID]; ok {
		m.DocumentID, _ = uuid.Parse(v.GetStringValue())
	}
	if v, ok := payload[fieldDocumentTitle]; ok {
		m.DocumentTitle = v.GetStringValue()
	}
	if v, ok := payload[fieldParentChunkID]; ok {
		m.ParentChunkID, _ = uuid.Parse(v.GetStringValue())
	}
	if v, ok := payload[fieldText]; ok {
		m.Text = v.GetStringValue()
	}
	if v, ok := payload[fieldParentIndex]; ok {
		m.ParentIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload[fieldChildIndex]; ok {
		m.ChildIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload[fieldCategory]; ok {
		m.Category = Category(v.GetStringValue())
	}
	if v, ok := payload[fieldPatientOwned]; ok {
		m.PatientOwned = v.GetBoolValue()
	}
	if v, ok := payload[fieldPatientID]; ok {
		m.PatientID = v.GetStringValue()
	}
	return key, m
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
