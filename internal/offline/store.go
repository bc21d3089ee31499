// Package offline implements the append-only historical fact store and
// point-in-time retrieval over it. Facts are immutable once appended;
// corrections are new facts with a later as_of, which keeps replay
// deterministic and lets readers run without locks.
package offline

import (
	"context"

	"github.com/sells-group/feature-store/internal/model"
)

// Store is the offline fact store contract. Both materializers write through
// AppendFacts; the online syncer reads FactsAfter; training retrieval reads
// PointInTime.
type Store interface {
	// AppendFacts appends a batch of facts in one transaction and returns
	// the number written. It never updates existing rows.
	AppendFacts(ctx context.Context, facts []model.Fact) (int64, error)

	// FactsAfter returns facts for one feature with insertion sequence
	// strictly greater than the given watermark, in sequence order, capped
	// at limit. The sequence is a durable cursor: consumers resume exactly
	// where they committed.
	FactsAfter(ctx context.Context, featureID string, afterSeq int64, limit int) ([]model.Fact, error)

	// PointInTime returns, for each request pair and each requested feature,
	// the value of the fact with the greatest as_of not exceeding the
	// request timestamp. Ties on as_of resolve to the highest insertion
	// sequence. Features with no qualifying fact are listed as missing on
	// the row; one pair's failure never aborts the batch.
	PointInTime(ctx context.Context, featureIDs []string, reqs []model.PointInTimeRequest) ([]model.PointInTimeRow, error)

	Close() error
}
