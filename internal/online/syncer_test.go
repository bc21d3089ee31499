package online

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-store/internal/model"
)

// factLog is an offline store fake serving canned facts per feature.
type factLog struct {
	facts []model.Fact
}

func (l *factLog) AppendFacts(_ context.Context, facts []model.Fact) (int64, error) {
	l.facts = append(l.facts, facts...)
	return int64(len(facts)), nil
}

func (l *factLog) FactsAfter(_ context.Context, featureID string, afterSeq int64, limit int) ([]model.Fact, error) {
	var out []model.Fact
	for _, f := range l.facts {
		if f.FeatureID == featureID && f.Seq > afterSeq {
			out = append(out, f)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *factLog) PointInTime(context.Context, []string, []model.PointInTimeRequest) ([]model.PointInTimeRow, error) {
	return nil, nil
}

func (l *factLog) Close() error { return nil }

// vectorStore is an online store fake with real staleness semantics. Apply is
// called from sharded goroutines, so state is mutex-guarded.
type vectorStore struct {
	mu       sync.Mutex
	asOf     map[string]time.Time // entityType/entityID/featureID -> as_of
	values   map[string]any
	applyErr error
}

func newVectorStore() *vectorStore {
	return &vectorStore{
		asOf:   make(map[string]time.Time),
		values: make(map[string]any),
	}
}

func vsKey(entityType, entityID, featureID string) string {
	return entityType + "/" + entityID + "/" + featureID
}

func (s *vectorStore) GetVector(context.Context, string, string) (*model.OnlineVector, error) {
	return nil, model.ErrNotFound
}

func (s *vectorStore) Apply(_ context.Context, entityType, entityID string, updates []Update) (int, int, error) {
	if s.applyErr != nil {
		return 0, 0, s.applyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, stale := 0, 0
	for _, u := range updates {
		key := vsKey(entityType, entityID, u.FeatureID)
		if prior, ok := s.asOf[key]; ok && !u.AsOf.After(prior) {
			stale++
			continue
		}
		s.asOf[key] = u.AsOf
		s.values[key] = u.Value
		applied++
	}
	return applied, stale, nil
}

func (s *vectorStore) Close() error { return nil }

func (s *vectorStore) value(entityType, entityID, featureID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[vsKey(entityType, entityID, featureID)]
}

// offsetMap is an in-memory watermark store.
type offsetMap struct {
	mu        sync.Mutex
	committed map[string]int64
	commitErr error
}

func (o *offsetMap) Committed(_ context.Context, consumer string) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed[consumer], nil
}

func (o *offsetMap) Commit(_ context.Context, consumer string, seq int64) error {
	if o.commitErr != nil {
		return o.commitErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.committed == nil {
		o.committed = make(map[string]int64)
	}
	o.committed[consumer] = seq
	return nil
}

func syncFact(seq int64, entityID, featureID string, value any, asOf time.Time) model.Fact {
	return model.Fact{
		Seq:        seq,
		EntityID:   entityID,
		EntityType: "account",
		FeatureID:  featureID,
		Value:      value,
		AsOf:       asOf,
	}
}

func TestSyncFeature_Empty(t *testing.T) {
	syncer := NewSyncer(&factLog{}, newVectorStore(), &offsetMap{}, SyncerConfig{})

	res, err := syncer.SyncFeature(context.Background(), "txn_count_30d")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 0, res.Stale)
	assert.Equal(t, int64(0), res.Watermark)
}

func TestSyncFeature_AppliesAndAdvancesWatermark(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offline := &factLog{facts: []model.Fact{
		syncFact(1, "acct-1", "txn_count_30d", 10, base),
		syncFact(2, "acct-2", "txn_count_30d", 20, base),
		syncFact(3, "acct-1", "txn_count_30d", 11, base.Add(time.Hour)),
	}}
	online := newVectorStore()
	offsets := &offsetMap{}
	syncer := NewSyncer(offline, online, offsets, SyncerConfig{Shards: 2})

	res, err := syncer.SyncFeature(context.Background(), "txn_count_30d")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 0, res.Stale)
	assert.Equal(t, int64(3), res.Watermark)

	// The latest value per entity wins; the watermark is durable.
	assert.Equal(t, 11, online.value("account", "acct-1", "txn_count_30d"))
	assert.Equal(t, 20, online.value("account", "acct-2", "txn_count_30d"))
	assert.Equal(t, int64(3), offsets.committed["online-sync:txn_count_30d"])
}

func TestSyncFeature_ReplayLandsAsStale(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offline := &factLog{facts: []model.Fact{
		syncFact(1, "acct-1", "txn_count_30d", 10, base),
		syncFact(2, "acct-2", "txn_count_30d", 20, base),
	}}
	online := newVectorStore()
	offsets := &offsetMap{}
	syncer := NewSyncer(offline, online, offsets, SyncerConfig{})

	_, err := syncer.SyncFeature(context.Background(), "txn_count_30d")
	require.NoError(t, err)

	// Simulate a crash after apply but before commit: rewind the watermark.
	offsets.committed["online-sync:txn_count_30d"] = 0

	res, err := syncer.SyncFeature(context.Background(), "txn_count_30d")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Stale)
	assert.Equal(t, int64(2), res.Watermark)
	assert.Equal(t, 10, online.value("account", "acct-1", "txn_count_30d"))
}

func TestSyncFeature_ApplyErrorHoldsWatermark(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offline := &factLog{facts: []model.Fact{
		syncFact(1, "acct-1", "txn_count_30d", 10, base),
	}}
	online := newVectorStore()
	online.applyErr = fmt.Errorf("redis connection lost")
	offsets := &offsetMap{}
	syncer := NewSyncer(offline, online, offsets, SyncerConfig{})

	_, err := syncer.SyncFeature(context.Background(), "txn_count_30d")
	require.Error(t, err)
	assert.Equal(t, int64(0), offsets.committed["online-sync:txn_count_30d"])
}

func TestSyncAll_DrainsInBatches(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offline := &factLog{}
	for i := int64(1); i <= 5; i++ {
		offline.facts = append(offline.facts,
			syncFact(i, fmt.Sprintf("acct-%d", i), "txn_count_30d", i, base.Add(time.Duration(i)*time.Minute)))
	}
	online := newVectorStore()
	offsets := &offsetMap{}
	// Batch of 2 forces three passes before the feature is caught up.
	syncer := NewSyncer(offline, online, offsets, SyncerConfig{BatchSize: 2})

	results, err := syncer.SyncAll(context.Background(), []string{"txn_count_30d"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].Applied)
	assert.Equal(t, int64(5), results[0].Watermark)
	assert.Equal(t, int64(5), offsets.committed["online-sync:txn_count_30d"])
}

func TestSyncAll_IndependentWatermarksPerFeature(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offline := &factLog{facts: []model.Fact{
		syncFact(1, "acct-1", "txn_count_30d", 10, base),
		syncFact(2, "acct-1", "txn_sum_30d", 99.5, base),
		syncFact(3, "acct-1", "txn_count_30d", 11, base.Add(time.Hour)),
	}}
	online := newVectorStore()
	offsets := &offsetMap{}
	syncer := NewSyncer(offline, online, offsets, SyncerConfig{})

	_, err := syncer.SyncAll(context.Background(), []string{"txn_count_30d", "txn_sum_30d"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), offsets.committed["online-sync:txn_count_30d"])
	assert.Equal(t, int64(2), offsets.committed["online-sync:txn_sum_30d"])
}
