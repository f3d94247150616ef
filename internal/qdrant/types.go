// Package qdrant stores per-tensor feature vectors in Qdrant so sampled
// tensors can be looked up by structural similarity.
package qdrant

import (
	"time"

	"github.com/sptensor/tnsample/internal/features"
)

// VectorName is the named vector holding the feature vector.
const VectorName = "features"

// CollectionConfig defines the configuration for creating a feature collection.
type CollectionConfig struct {
	// Name is the collection name (will be prefixed with "tns_").
	Name string

	// VectorSize is the feature vector dimension.
	VectorSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool

	// IndexingThreshold is the number of vectors before HNSW index is built.
	IndexingThreshold uint64
}

// DefaultCollectionConfig returns defaults for a feature collection.
func DefaultCollectionConfig(name string) CollectionConfig {
	return CollectionConfig{
		Name:              name,
		VectorSize:        features.Len,
		OnDiskPayload:     false,
		IndexingThreshold: 20000,
	}
}

// FeaturePoint is one sampled tensor.
type FeaturePoint struct {
	// Hash is the SHA-256 of the tensor file; the point ID derives from it.
	Hash string

	// Vector is the combined feature vector.
	Vector []float32

	// Payload is the metadata associated with this point.
	Payload FeaturePayload
}

// FeaturePayload is the searchable metadata for a tensor.
type FeaturePayload struct {
	Path       string    `json:"path"`
	ListIndex  int       `json:"list_index"`
	Shape      [3]int    `json:"shape"`
	NNZ        int       `json:"nnz"`
	Resolution int       `json:"resolution"`
	RunID      string    `json:"run_id"`
	Hash       string    `json:"hash"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Match is one similarity search hit.
type Match struct {
	ID      string
	Score   float32
	Payload FeaturePayload
}

// CollectionInfo contains collection metadata.
type CollectionInfo struct {
	Name          string
	PointsCount   uint64
	Status        string
	SegmentsCount uint64
}
