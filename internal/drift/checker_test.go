package drift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(nil, nil, 0)
	assert.Equal(t, time.Hour, c.interval)
}

func TestChecker_Run_StopsOnCancel(t *testing.T) {
	monitor := NewMonitor(&cannedStats{}, nil, nil, DefaultMonitorConfig())
	lister := func(context.Context) ([]string, error) { return nil, nil }
	c := NewChecker(monitor, lister, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop on context cancellation")
	}
}

func TestChecker_CheckListsAndScores(t *testing.T) {
	stats := &cannedStats{
		baseline: dailyStats(7, 100, 10),
		recent:   dailyStats(7, 100, 10),
	}
	monitor := NewMonitor(stats, nil, nil, DefaultMonitorConfig())

	var listed bool
	lister := func(context.Context) ([]string, error) {
		listed = true
		return []string{"txn_count_30d"}, nil
	}
	c := NewChecker(monitor, lister, time.Hour)
	c.check(context.Background(), zap.NewNop())

	require.True(t, listed)
	assert.Equal(t, 2, stats.calls, "one baseline and one recent window read")
}
