package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/model"
)

// memFeed is an in-memory ChangeFeed.
type memFeed struct {
	events []Event
}

func (f *memFeed) ReadAfter(_ context.Context, offset int64, limit int) ([]Event, error) {
	var out []Event
	for _, e := range f.events {
		if e.Seq > offset {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *memFeed) Head(context.Context) (int64, error) {
	if len(f.events) == 0 {
		return 0, nil
	}
	return f.events[len(f.events)-1].Seq, nil
}

// memOffsets is an in-memory OffsetStore.
type memOffsets struct {
	committed  map[string]int64
	failCommit bool
}

func (o *memOffsets) Committed(_ context.Context, consumer string) (int64, error) {
	return o.committed[consumer], nil
}

func (o *memOffsets) Commit(_ context.Context, consumer string, seq int64) error {
	if o.failCommit {
		return fmt.Errorf("offsets table unavailable")
	}
	if o.committed == nil {
		o.committed = make(map[string]int64)
	}
	o.committed[consumer] = seq
	return nil
}

// memStore records appended facts; fail makes AppendFacts error.
type memStore struct {
	facts []model.Fact
	fail  bool
}

func (s *memStore) AppendFacts(_ context.Context, facts []model.Fact) (int64, error) {
	if s.fail {
		return 0, fmt.Errorf("disk full")
	}
	s.facts = append(s.facts, facts...)
	return int64(len(facts)), nil
}

func (s *memStore) FactsAfter(context.Context, string, int64, int) ([]model.Fact, error) {
	return nil, nil
}

func (s *memStore) PointInTime(context.Context, []string, []model.PointInTimeRequest) ([]model.PointInTimeRow, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

// countingFeature returns one value per requested entity and records the
// entity lists it was asked to recompute.
type countingFeature struct {
	name       string
	entityType string
	calls      [][]string
	err        error
}

func (f *countingFeature) Name() string       { return f.name }
func (f *countingFeature) EntityType() string { return f.entityType }

func (f *countingFeature) RecomputeFor(_ context.Context, _ db.Pool, entityIDs []string, _ time.Time) ([]materialize.EntityValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, entityIDs)
	out := make([]materialize.EntityValue, 0, len(entityIDs))
	for _, id := range entityIDs {
		out = append(out, materialize.EntityValue{EntityID: id, Value: 1})
	}
	return out, nil
}

func event(seq int64, entityID string) Event {
	return Event{
		Seq:        seq,
		EntityID:   entityID,
		EntityType: "account",
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
	}
}

func newTestConsumer(feed *memFeed, offsets *memOffsets, store *memStore, features ...WindowFeature) *Consumer {
	return NewConsumer(ConsumerConfig{Name: "test-consumer", BatchSize: 10}, feed, offsets, nil, store, features)
}

func TestConsumer_Tick_EmptyFeed(t *testing.T) {
	consumer := newTestConsumer(&memFeed{}, &memOffsets{}, &memStore{})

	n, err := consumer.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConsumer_Tick_AppendsThenCommits(t *testing.T) {
	feed := &memFeed{events: []Event{
		event(1, "acct-1"),
		event(2, "acct-2"),
		event(3, "acct-1"), // duplicate entity in the batch
	}}
	offsets := &memOffsets{}
	store := &memStore{}
	feature := &countingFeature{name: "txn_count_1h", entityType: "account"}
	consumer := newTestConsumer(feed, offsets, store, feature)

	n, err := consumer.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Each affected entity is recomputed once per tick, not per event.
	require.Len(t, feature.calls, 1)
	assert.ElementsMatch(t, []string{"acct-1", "acct-2"}, feature.calls[0])

	require.Len(t, store.facts, 2)
	assert.Equal(t, "txn_count_1h", store.facts[0].FeatureID)
	assert.Equal(t, int64(3), offsets.committed["test-consumer"])

	// A second tick finds nothing past the committed offset.
	n, err = consumer.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConsumer_Tick_AppendFailureHoldsOffset(t *testing.T) {
	feed := &memFeed{events: []Event{event(1, "acct-1"), event(2, "acct-2")}}
	offsets := &memOffsets{}
	store := &memStore{fail: true}
	feature := &countingFeature{name: "txn_count_1h", entityType: "account"}
	consumer := newTestConsumer(feed, offsets, store, feature)

	_, err := consumer.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), offsets.committed["test-consumer"])

	// After the store recovers, the same entries are replayed.
	store.fail = false
	n, err := consumer.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.facts, 2)
	assert.Equal(t, int64(2), offsets.committed["test-consumer"])
}

func TestConsumer_Tick_RecomputeFailureHoldsOffset(t *testing.T) {
	feed := &memFeed{events: []Event{event(1, "acct-1")}}
	offsets := &memOffsets{}
	store := &memStore{}
	feature := &countingFeature{name: "txn_count_1h", entityType: "account", err: fmt.Errorf("source query failed")}
	consumer := newTestConsumer(feed, offsets, store, feature)

	_, err := consumer.Tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.facts)
	assert.Equal(t, int64(0), offsets.committed["test-consumer"])
}

func TestConsumer_Tick_CommitFailureSurfaces(t *testing.T) {
	feed := &memFeed{events: []Event{event(1, "acct-1")}}
	offsets := &memOffsets{failCommit: true}
	store := &memStore{}
	feature := &countingFeature{name: "txn_count_1h", entityType: "account"}
	consumer := newTestConsumer(feed, offsets, store, feature)

	// Facts land but the offset does not advance: the batch replays and the
	// duplicate facts are absorbed downstream.
	_, err := consumer.Tick(context.Background())
	require.Error(t, err)
	assert.Len(t, store.facts, 1)
	assert.Equal(t, int64(0), offsets.committed["test-consumer"])
}

func TestConsumer_Tick_IgnoresOtherEntityTypes(t *testing.T) {
	feed := &memFeed{events: []Event{
		event(1, "acct-1"),
		{Seq: 2, EntityID: "merchant-1", EntityType: "merchant"},
	}}
	offsets := &memOffsets{}
	store := &memStore{}
	feature := &countingFeature{name: "txn_count_1h", entityType: "account"}
	consumer := newTestConsumer(feed, offsets, store, feature)

	n, err := consumer.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, feature.calls, 1)
	assert.Equal(t, []string{"acct-1"}, feature.calls[0])

	// The offset still advances past the foreign-type event.
	assert.Equal(t, int64(2), offsets.committed["test-consumer"])
}

func TestConsumer_Defaults(t *testing.T) {
	c := NewConsumer(ConsumerConfig{}, &memFeed{}, &memOffsets{}, nil, &memStore{}, nil)
	assert.Equal(t, "stream-materializer", c.name)
	assert.Equal(t, 500, c.batchSize)
}
