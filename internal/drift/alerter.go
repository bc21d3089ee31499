package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/resilience"
)

// Alerter delivers drift alerts to a webhook. Transient failures are
// retried with backoff; a 4xx response is final.
type Alerter struct {
	webhookURL string
	client     *http.Client
	retry      resilience.RetryConfig
}

// NewAlerter creates an Alerter for the given webhook URL.
func NewAlerter(webhookURL string) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "send_drift_alert")
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
	}
}

// Send posts the alert as JSON. A blank webhook URL makes Send a no-op.
func (a *Alerter) Send(ctx context.Context, alert *model.DriftAlert) error {
	if a.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "drift: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "drift: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "drift: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("drift: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
