package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Compile-time check that QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)

// pointNamespace seeds uuid.NewSHA1 so a tweet id always maps to the same
// qdrant point id, which turns Add into an in-place upsert.
var pointNamespace = uuid.MustParse("9f2c41de-6b77-45a3-8c1e-0d54a21f93b7")

// upsertBatch caps how many points go into one Upsert call.
const upsertBatch = 100

// QdrantIndex mirrors embeddings into a remote qdrant collection over gRPC.
// The collection is created on first use with cosine distance and the
// store's dimension. Filterable fields travel as point payload.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	collection  string
	dim         int
}

// NewQdrantIndex connects to addr (host:port of qdrant's gRPC listener) and
// ensures the collection exists.
func NewQdrantIndex(ctx context.Context, addr, collection string, dim int) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", addr, err)
	}
	q := &QdrantIndex{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		collection:  collection,
		dim:         dim,
	}
	if err := q.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

// Close tears down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func (q *QdrantIndex) Name() string { return "qdrant" }

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing qdrant collections: %w", err)
	}
	for _, col := range list.GetCollections() {
		if col.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection %q: %w", q.collection, err)
	}
	return nil
}

// Add upserts points in batches of upsertBatch.
func (q *QdrantIndex) Add(ctx context.Context, points []Point) error {
	for start := 0; start < len(points); start += upsertBatch {
		end := min(start+upsertBatch, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id: pointID(p.TweetID),
				Vectors: &qdrant.Vectors{
					VectorsOptions: &qdrant.Vectors_Vector{
						Vector: &qdrant.Vector{Data: p.Vector},
					},
				},
				Payload: map[string]*qdrant.Value{
					"tweet_id":        stringValue(p.TweetID),
					"text":            stringValue(p.Text),
					"user_id":         stringValue(p.UserID),
					"conversation_id": stringValue(p.ConversationID),
					"created_at":      stringValue(p.CreatedAt.UTC().Format(time.RFC3339)),
				},
			})
		}
		if _, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         batch,
		}); err != nil {
			return fmt.Errorf("upserting %d points: %w", len(batch), err)
		}
	}
	return nil
}

// Search runs an ANN query, converting qdrant's cosine similarity score to
// cosine distance and re-sorting locally so tie-breaks match the other
// backends.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         payloadFilter(f),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Include{
				Include: &qdrant.PayloadIncludeSelector{
					Fields: []string{"tweet_id", "created_at"},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("searching qdrant: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		m := Match{Distance: 1 - pt.GetScore()}
		if v, ok := pt.GetPayload()["tweet_id"]; ok {
			m.TweetID = v.GetStringValue()
		}
		if v, ok := pt.GetPayload()["created_at"]; ok {
			if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
				m.CreatedAt = t
			}
		}
		if m.TweetID == "" {
			continue
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}

// Count returns the number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	resp, err := q.points.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, fmt.Errorf("counting qdrant points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func pointID(tweetID string) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{
			Uuid: uuid.NewSHA1(pointNamespace, []byte(tweetID)).String(),
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// payloadFilter translates a Filter into qdrant payload match conditions.
// Returns nil for the empty filter.
func payloadFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.ConversationID != "" {
		must = append(must, keywordCondition("conversation_id", f.ConversationID))
	}
	if f.UserID != "" {
		must = append(must, keywordCondition("user_id", f.UserID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}
