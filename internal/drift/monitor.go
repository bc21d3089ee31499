// Package drift compares recent feature distributions against a trailing
// baseline and emits tiered alerts when a feature's values shift. Alerts are
// append-only; nothing here acknowledges or resolves them.
package drift

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/metrics"
	"github.com/sells-group/feature-store/internal/model"
)

// StatsSource supplies stored daily summaries for a window.
type StatsSource interface {
	Between(ctx context.Context, featureID string, from, to time.Time) ([]model.FeatureStats, error)
}

// MonitorConfig sets the comparison windows.
type MonitorConfig struct {
	// RecentWindow and BaselineWindow are consecutive: the baseline ends
	// where the recent window begins.
	RecentWindow   time.Duration
	BaselineWindow time.Duration

	// MinDays is the minimum number of daily summaries each window needs
	// before a comparison is meaningful.
	MinDays int
}

// DefaultMonitorConfig compares the trailing week against the week before.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		RecentWindow:   7 * 24 * time.Hour,
		BaselineWindow: 7 * 24 * time.Hour,
		MinDays:        3,
	}
}

// Monitor scores features and records alerts.
type Monitor struct {
	stats   StatsSource
	pool    db.Pool
	alerter *Alerter
	cfg     MonitorConfig
	log     *zap.Logger
}

// NewMonitor creates a Monitor. alerter may be nil to skip webhook delivery.
func NewMonitor(stats StatsSource, pool db.Pool, alerter *Alerter, cfg MonitorConfig) *Monitor {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 7 * 24 * time.Hour
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 7 * 24 * time.Hour
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = 3
	}
	return &Monitor{
		stats:   stats,
		pool:    pool,
		alerter: alerter,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "drift.monitor")),
	}
}

// Score normalizes the mean shift by the baseline spread. A zero-spread
// baseline with a moved mean scores infinite and tiers high.
func Score(baselineMean, baselineStddev, recentMean float64) float64 {
	shift := math.Abs(recentMean - baselineMean)
	if baselineStddev == 0 {
		if shift == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return shift / baselineStddev
}

// Severity tiers a score; the empty severity means no alert.
func Severity(score float64) model.DriftSeverity {
	switch {
	case score > 3:
		return model.SeverityHigh
	case score > 2:
		return model.SeverityModerate
	case score > 1:
		return model.SeverityMinor
	default:
		return ""
	}
}

type windowSummary struct {
	mean   float64
	stddev float64
	days   int
}

// summarize collapses daily rows into a window summary, weighting each day
// by its row count.
func summarize(rows []model.FeatureStats) windowSummary {
	var (
		weight    float64
		meanSum   float64
		stddevSum float64
	)
	for _, r := range rows {
		w := float64(r.Count)
		if w <= 0 {
			continue
		}
		weight += w
		meanSum += r.Mean * w
		stddevSum += r.Stddev * w
	}
	if weight == 0 {
		return windowSummary{}
	}
	return windowSummary{
		mean:   meanSum / weight,
		stddev: stddevSum / weight,
		days:   len(rows),
	}
}

// Check scores one feature as of now. Returns the alert it recorded, or nil
// when the feature is stable or lacks enough history.
func (m *Monitor) Check(ctx context.Context, featureID string, now time.Time) (*model.DriftAlert, error) {
	recentStart := now.Add(-m.cfg.RecentWindow)
	baselineStart := recentStart.Add(-m.cfg.BaselineWindow)

	baselineRows, err := m.stats.Between(ctx, featureID, baselineStart, recentStart)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: baseline window for %s", featureID)
	}
	recentRows, err := m.stats.Between(ctx, featureID, recentStart, now)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: recent window for %s", featureID)
	}

	baseline := summarize(baselineRows)
	recent := summarize(recentRows)
	if baseline.days < m.cfg.MinDays || recent.days < m.cfg.MinDays {
		m.log.Debug("insufficient history for comparison",
			zap.String("feature_id", featureID),
			zap.Int("baseline_days", baseline.days),
			zap.Int("recent_days", recent.days),
		)
		return nil, nil
	}

	score := Score(baseline.mean, baseline.stddev, recent.mean)
	severity := Severity(score)
	if severity == "" {
		return nil, nil
	}

	alert := &model.DriftAlert{
		AlertID:      uuid.NewString(),
		FeatureID:    featureID,
		Severity:     severity,
		Score:        score,
		BaselineMean: baseline.mean,
		RecentMean:   recent.mean,
		DetectedAt:   now.UTC(),
		Message: fmt.Sprintf(
			"feature %s shifted %.2f baseline deviations (baseline mean %.4g, recent mean %.4g)",
			featureID, score, baseline.mean, recent.mean,
		),
	}
	if err := m.record(ctx, alert); err != nil {
		return nil, err
	}

	metrics.DriftAlerts.WithLabelValues(featureID, string(severity)).Inc()
	m.log.Warn("drift alert recorded",
		zap.String("feature_id", featureID),
		zap.String("severity", string(severity)),
		zap.Float64("score", score),
	)

	if m.alerter != nil {
		if err := m.alerter.Send(ctx, alert); err != nil {
			// Delivery is best-effort; the stored alert is the record.
			m.log.Error("drift alert delivery failed",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}
	return alert, nil
}

// CheckAll runs Check over each feature, continuing past per-feature errors.
func (m *Monitor) CheckAll(ctx context.Context, featureIDs []string, now time.Time) ([]model.DriftAlert, error) {
	var alerts []model.DriftAlert
	var failed int
	for _, fid := range featureIDs {
		alert, err := m.Check(ctx, fid, now)
		if err != nil {
			m.log.Error("drift check failed", zap.String("feature_id", fid), zap.Error(err))
			failed++
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	if failed == len(featureIDs) && failed > 0 {
		return alerts, eris.Errorf("drift: all %d feature checks failed", failed)
	}
	return alerts, nil
}

func (m *Monitor) record(ctx context.Context, a *model.DriftAlert) error {
	score := a.Score
	if math.IsInf(score, 1) {
		score = math.MaxFloat64
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO feature_store.drift_alerts
		   (alert_id, feature_id, severity, score, baseline_mean, recent_mean, detected_at, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.AlertID, a.FeatureID, string(a.Severity), score,
		a.BaselineMean, a.RecentMean, a.DetectedAt, a.Message,
	)
	if err != nil {
		return eris.Wrapf(err, "drift: record alert for %s", a.FeatureID)
	}
	return nil
}

// Recent returns the newest stored alerts, optionally filtered by feature.
func (m *Monitor) Recent(ctx context.Context, featureID string, limit int) ([]model.DriftAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT alert_id, feature_id, severity, score, baseline_mean, recent_mean, detected_at, message
	          FROM feature_store.drift_alerts`
	args := []any{}
	if featureID != "" {
		query += ` WHERE feature_id = $1 ORDER BY detected_at DESC LIMIT $2`
		args = append(args, featureID, limit)
	} else {
		query += ` ORDER BY detected_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "drift: list alerts")
	}
	defer rows.Close()

	var out []model.DriftAlert
	for rows.Next() {
		var a model.DriftAlert
		if err := rows.Scan(&a.AlertID, &a.FeatureID, &a.Severity, &a.Score,
			&a.BaselineMean, &a.RecentMean, &a.DetectedAt, &a.Message); err != nil {
			return nil, eris.Wrap(err, "drift: scan alert")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
