// Package materialize executes feature expressions against the raw source
// and appends the resulting facts to the offline store. Batch runs are
// serialized per feature by a compute-log lock; failures stay local to the
// failing feature.
package materialize

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// EntityValue is one computed value for one entity.
type EntityValue struct {
	EntityID string
	Value    any
}

// Feature is an executable materialization expression. Implementations are
// pure readers of the raw source: one windowed value per entity, stamped
// with the run's as_of by the engine.
type Feature interface {
	// Name returns the feature_id this implementation computes.
	Name() string

	// EntityType returns the entity type the feature describes.
	EntityType() string

	// ValueType returns the declared value type.
	ValueType() model.ValueType

	// Mode returns batch or streaming.
	Mode() model.ComputeMode

	// Cadence returns the refresh cadence for batch features.
	Cadence() model.Cadence

	// Materialize computes one value per entity over the feature's window
	// ending at asOf. Entities with no qualifying rows are absent from the
	// result, not zero-valued, unless the expression defines a default.
	Materialize(ctx context.Context, pool db.Pool, asOf time.Time) ([]EntityValue, error)
}

// Definition builds the catalog row for a feature implementation.
func Definition(f Feature, displayName, group, expression string) *model.FeatureDefinition {
	return &model.FeatureDefinition{
		FeatureID:   f.Name(),
		DisplayName: displayName,
		Group:       group,
		EntityType:  f.EntityType(),
		ValueType:   f.ValueType(),
		Mode:        f.Mode(),
		Expression:  expression,
		Cadence:     f.Cadence(),
	}
}

// Library maps feature_ids to their executable implementations, in
// registration order.
type Library struct {
	features map[string]Feature
	order    []string
}

// NewLibrary creates a library populated with the builtin banking features.
func NewLibrary() *Library {
	l := &Library{features: make(map[string]Feature)}

	l.Register(TxnCount30d())
	l.Register(TxnSum30d())
	l.Register(TxnAvg30d())
	l.Register(DaysSinceLastTxn())
	l.Register(ActiveAccountCount())
	l.Register(TxnCount1h())
	l.Register(TxnSum1h())

	return l
}

// Register adds a feature implementation.
func (l *Library) Register(f Feature) {
	name := f.Name()
	l.features[name] = f
	l.order = append(l.order, name)
}

// Get returns a feature implementation by feature_id.
func (l *Library) Get(name string) (Feature, error) {
	f, ok := l.features[name]
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "materialize: no implementation for feature %q", name)
	}
	return f, nil
}

// All returns all implementations in registration order.
func (l *Library) All() []Feature {
	out := make([]Feature, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.features[name])
	}
	return out
}
