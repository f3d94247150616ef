package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/sptensor/tnsample/internal/pkg/hash"
)

// DefaultBatchSize bounds the points sent in one upsert request.
const DefaultBatchSize = 256

// UpsertFeatures inserts or replaces feature points. Point IDs derive from the
// tensor content hash, so resampling the same file overwrites its point.
func (c *Client) UpsertFeatures(ctx context.Context, collection string, points []FeaturePoint) error {
	for i := 0; i < len(points); i += DefaultBatchSize {
		end := min(i+DefaultBatchSize, len(points))
		if err := c.upsert(ctx, collection, points[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (c *Client) upsert(ctx context.Context, collection string, points []FeaturePoint) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		point, err := pointToQdrant(p)
		if err != nil {
			return fmt.Errorf("failed to convert point %s: %w", p.Payload.Path, err)
		}
		qdrantPoints = append(qdrantPoints, point)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(collection),
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Similar returns the limit stored tensors closest to vector.
func (c *Client) Similar(ctx context.Context, collection string, vector []float32, limit uint64) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if limit == 0 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(collection),
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(VectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, p := range results {
		matches = append(matches, Match{
			ID:      pointID(p.GetId()),
			Score:   p.GetScore(),
			Payload: extractPayload(p.GetPayload()),
		})
	}
	return matches, nil
}

// CountPoints returns the number of points in a collection.
func (c *Client) CountPoints(ctx context.Context, collection string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	count, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collectionName(collection),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return count, nil
}

// pointToQdrant converts a FeaturePoint to a Qdrant PointStruct.
func pointToQdrant(p FeaturePoint) (*qdrant.PointStruct, error) {
	if p.Hash == "" {
		return nil, fmt.Errorf("missing content hash")
	}
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("empty feature vector")
	}

	payload, err := qdrant.TryValueMap(payloadMap(p))
	if err != nil {
		return nil, err
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(hash.PointUUID(p.Hash)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{VectorName: qdrant.NewVector(p.Vector...)}),
		Payload: payload,
	}, nil
}

func payloadMap(p FeaturePoint) map[string]any {
	sampledAt := p.Payload.SampledAt
	if sampledAt.IsZero() {
		sampledAt = time.Now()
	}
	return map[string]any{
		"path":       p.Payload.Path,
		"list_index": int64(p.Payload.ListIndex),
		"shape": []any{
			int64(p.Payload.Shape[0]),
			int64(p.Payload.Shape[1]),
			int64(p.Payload.Shape[2]),
		},
		"nnz":        int64(p.Payload.NNZ),
		"resolution": int64(p.Payload.Resolution),
		"run_id":     p.Payload.RunID,
		"hash":       p.Hash,
		"sampled_at": sampledAt.UTC().Format(time.RFC3339),
	}
}

func pointID(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

// extractPayload extracts a FeaturePayload from a Qdrant payload map.
func extractPayload(payload map[string]*qdrant.Value) FeaturePayload {
	result := FeaturePayload{
		Path:       getStringValue(payload, "path"),
		ListIndex:  getIntValue(payload, "list_index"),
		NNZ:        getIntValue(payload, "nnz"),
		Resolution: getIntValue(payload, "resolution"),
		RunID:      getStringValue(payload, "run_id"),
		Hash:       getStringValue(payload, "hash"),
	}

	if v, ok := payload["shape"]; ok {
		for i, item := range v.GetListValue().GetValues() {
			if i < len(result.Shape) {
				result.Shape[i] = int(item.GetIntegerValue())
			}
		}
	}
	if v := getStringValue(payload, "sampled_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			result.SampledAt = t
		}
	}

	return result
}

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		return int(v.GetIntegerValue())
	}
	return 0
}
