// Package online implements the latest-value store used for low-latency
// inference lookups, and the sync worker that folds newly appended offline
// facts into per-entity feature vectors.
package online

import (
	"context"
	"time"

	"github.com/sells-group/feature-store/internal/model"
)

// Update is one feature value to merge into an entity's vector, carrying
// the as_of of the fact it came from.
type Update struct {
	FeatureID string
	Value     any
	AsOf      time.Time
}

// Store is the online store contract. Vectors are schema-less mappings so
// registering a new feature never needs a storage migration. The sync
// worker is the only writer; lookups are read-only.
type Store interface {
	// GetVector returns the entity's current feature vector, or
	// model.ErrNotFound for an entity that has never been synced — callers
	// get an explicit absence, never a zero-filled vector.
	GetVector(ctx context.Context, entityType, entityID string) (*model.OnlineVector, error)

	// Apply merges updates into the entity's vector and returns how many
	// were applied and how many were skipped as stale. An update older than
	// the stored as_of for its feature is a duplicate or out-of-order
	// delivery already superseded; it is skipped, not an error.
	Apply(ctx context.Context, entityType, entityID string, updates []Update) (applied, stale int, err error)

	Close() error
}
