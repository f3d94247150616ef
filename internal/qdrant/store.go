package qdrant

import (
	"context"
	"fmt"

	"github.com/sptensor/tnsample/internal/config"
)

// Store binds a client to one feature collection.
type Store struct {
	client     *Client
	collection string
}

// Open connects to Qdrant and ensures the configured collection exists,
// dropping it first when cfg.Recreate is set.
func Open(ctx context.Context, cfg config.QdrantConfig) (*Store, error) {
	ccfg, err := ParseURL(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ccfg)
	if err != nil {
		return nil, err
	}

	if _, err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant at %s: %w", cfg.URL, err)
	}

	if cfg.Recreate {
		if err := client.DeleteCollection(ctx, cfg.Collection); err != nil {
			client.Close()
			return nil, err
		}
	}

	if err := client.EnsureCollection(ctx, DefaultCollectionConfig(cfg.Collection)); err != nil {
		client.Close()
		return nil, err
	}

	return &Store{client: client, collection: cfg.Collection}, nil
}

// Collection returns the unprefixed collection name.
func (s *Store) Collection() string {
	return s.collection
}

// UpsertFeatures stores points in the bound collection.
func (s *Store) UpsertFeatures(ctx context.Context, points []FeaturePoint) error {
	return s.client.UpsertFeatures(ctx, s.collection, points)
}

// Similar searches the bound collection.
func (s *Store) Similar(ctx context.Context, vector []float32, limit uint64) ([]Match, error) {
	return s.client.Similar(ctx, s.collection, vector, limit)
}

// Count returns the number of points in the bound collection.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	return s.client.CountPoints(ctx, s.collection)
}

// Info describes the bound collection.
func (s *Store) Info(ctx context.Context) (*CollectionInfo, error) {
	return s.client.GetCollectionInfo(ctx, s.collection)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
