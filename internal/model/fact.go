package model

import "time"

// Fact is one immutable row in the offline store: the value of a feature for
// an entity as of a point in time. (EntityID, FeatureID, AsOf) is the natural
// key; Seq is the insertion sequence used to break as_of ties (last write
// wins within a batch of corrections).
type Fact struct {
	Seq        int64     `json:"seq,omitempty"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	FeatureID  string    `json:"feature_id"`
	Value      any       `json:"value"`
	AsOf       time.Time `json:"as_of"`
}

// OnlineVector is the mutable latest-value row for one entity: a mapping
// from feature_id to its current value, plus the as_of each value was
// derived from so stale syncs can be detected per feature.
type OnlineVector struct {
	EntityID    string               `json:"entity_id"`
	EntityType  string               `json:"entity_type"`
	Values      map[string]any       `json:"values"`
	AsOf        map[string]time.Time `json:"as_of"`
	LastUpdated time.Time            `json:"last_updated"`
}

// ValueAsOf returns the as_of recorded for a feature, or the zero time if
// the feature has never been synced into this vector.
func (v *OnlineVector) ValueAsOf(featureID string) time.Time {
	if v.AsOf == nil {
		return time.Time{}
	}
	return v.AsOf[featureID]
}

// PointInTimeRequest is one (entity, label-timestamp) pair for historical
// retrieval.
type PointInTimeRequest struct {
	EntityID string    `json:"entity_id"`
	AsOf     time.Time `json:"as_of"`
}

// PointInTimeRow is the retrieval result for one request pair: the value of
// each requested feature as known at the requested timestamp. Features with
// no qualifying fact appear in Missing rather than Values; they are never
// silently defaulted.
type PointInTimeRow struct {
	EntityID string         `json:"entity_id"`
	AsOf     time.Time      `json:"as_of"`
	Values   map[string]any `json:"values"`
	Missing  []string       `json:"missing,omitempty"`
}
