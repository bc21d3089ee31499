// Package stream consumes the ordered change-capture feed of raw row
// inserts and incrementally maintains short-window features. Delivery is
// at-least-once: facts are written before the offset commits, so a crash
// replays entries and point-in-time retrieval absorbs the duplicates.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
)

// Event is one change-feed entry: a newly inserted raw row.
type Event struct {
	Seq        int64     `json:"seq"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Payload    []byte    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ChangeFeed is the ordered, replayable stream of raw inserts. Entries are
// totally ordered by seq; reads after a given seq are repeatable.
type ChangeFeed interface {
	// ReadAfter returns up to limit entries with seq strictly greater than
	// the given offset, in seq order.
	ReadAfter(ctx context.Context, offset int64, limit int) ([]Event, error)

	// Head returns the highest seq currently on the feed, or 0 if empty.
	Head(ctx context.Context) (int64, error)
}

// OffsetStore persists each consumer's committed position.
type OffsetStore interface {
	// Committed returns the consumer's committed offset, or 0 if it has
	// never committed.
	Committed(ctx context.Context, consumer string) (int64, error)

	// Commit durably records the consumer's new offset.
	Commit(ctx context.Context, consumer string, seq int64) error
}

// PostgresFeed implements ChangeFeed and OffsetStore on the
// feature_store.change_feed and feed_offsets tables.
type PostgresFeed struct {
	pool db.Pool
}

// NewPostgresFeed creates a feed on the given pool.
func NewPostgresFeed(pool db.Pool) *PostgresFeed {
	return &PostgresFeed{pool: pool}
}

// ReadAfter returns entries past the offset in seq order.
func (f *PostgresFeed) ReadAfter(ctx context.Context, offset int64, limit int) ([]Event, error) {
	rows, err := f.pool.Query(ctx,
		`SELECT seq, entity_id, entity_type, payload, occurred_at
		 FROM feature_store.change_feed
		 WHERE seq > $1 ORDER BY seq LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "stream: read feed after %d", offset)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.EntityID, &e.EntityType, &e.Payload, &e.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "stream: scan feed entry")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Head returns the newest seq on the feed.
func (f *PostgresFeed) Head(ctx context.Context) (int64, error) {
	var head int64
	err := f.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM feature_store.change_feed`,
	).Scan(&head)
	if err != nil {
		return 0, eris.Wrap(err, "stream: feed head")
	}
	return head, nil
}

// Committed returns the consumer's committed offset, 0 if never committed.
func (f *PostgresFeed) Committed(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := f.pool.QueryRow(ctx,
		`SELECT committed_seq FROM feature_store.feed_offsets WHERE consumer = $1`,
		consumer,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "stream: committed offset for %s", consumer)
	}
	return seq, nil
}

// Commit upserts the consumer's offset.
func (f *PostgresFeed) Commit(ctx context.Context, consumer string, seq int64) error {
	_, err := f.pool.Exec(ctx,
		`INSERT INTO feature_store.feed_offsets (consumer, committed_seq, committed_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (consumer) DO UPDATE SET committed_seq = EXCLUDED.committed_seq, committed_at = now()`,
		consumer, seq,
	)
	if err != nil {
		return eris.Wrapf(err, "stream: commit offset %d for %s", seq, consumer)
	}
	return nil
}
