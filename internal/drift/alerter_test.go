package drift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-store/internal/model"
)

func testAlert() *model.DriftAlert {
	return &model.DriftAlert{
		AlertID:      "alert-1",
		FeatureID:    "txn_sum_30d",
		Severity:     model.SeverityHigh,
		Score:        3.5,
		BaselineMean: 100,
		RecentMean:   135,
		DetectedAt:   time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
		Message:      "feature txn_sum_30d shifted 3.50 baseline deviations",
	}
}

func fastAlerter(url string) *Alerter {
	a := NewAlerter(url)
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = 5 * time.Millisecond
	return a
}

func TestAlerterSend_BlankURLNoOp(t *testing.T) {
	assert.NoError(t, NewAlerter("").Send(context.Background(), testAlert()))
}

func TestAlerterSend_PostsJSON(t *testing.T) {
	var got model.DriftAlert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastAlerter(srv.URL).Send(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, model.SeverityHigh, got.Severity)
}

func TestAlerterSend_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastAlerter(srv.URL).Send(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerterSend_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastAlerter(srv.URL).Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}
