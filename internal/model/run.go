package model

import "time"

// RunStatus is the state of one materialization run in the compute log.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusTimeout RunStatus = "timeout" // set by the reaper, never by the run itself
)

// Terminal reports whether the status releases the feature's run lock.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusTimeout
}

// ComputeRun is one row in the compute log: the audit record of a single
// materialization run. A RUNNING row doubles as the per-feature exclusive
// run lock.
type ComputeRun struct {
	RunID         string     `json:"run_id"`
	FeatureID     string     `json:"feature_id"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RowsProcessed int64      `json:"rows_processed"`
	Status        RunStatus  `json:"status"`
	Error         string     `json:"error,omitempty"`
}

// FeatureStats is the distributional summary of one feature's facts for one
// calendar day. Recomputing a (feature, date) pair overwrites the prior row.
type FeatureStats struct {
	FeatureID     string    `json:"feature_id"`
	Date          time.Time `json:"date"` // midnight UTC of the computed day
	Count         int64     `json:"count"`
	Mean          float64   `json:"mean"`
	Stddev        float64   `json:"stddev"`
	P25           float64   `json:"p25"`
	P50           float64   `json:"p50"`
	P75           float64   `json:"p75"`
	P95           float64   `json:"p95"`
	NullRate      float64   `json:"null_rate"`
	DistinctCount int64     `json:"distinct_count"`
}

// DriftSeverity tiers a drift alert by normalized shift.
type DriftSeverity string

const (
	SeverityMinor    DriftSeverity = "minor"    // shift > 1
	SeverityModerate DriftSeverity = "moderate" // shift > 2
	SeverityHigh     DriftSeverity = "high"     // shift > 3
)

// DriftAlert is one appended alert row. Alerts have no state transitions;
// deduplication and acknowledgment belong to consumers.
type DriftAlert struct {
	AlertID      string        `json:"alert_id"`
	FeatureID    string        `json:"feature_id"`
	Severity     DriftSeverity `json:"severity"`
	Score        float64       `json:"score"`
	BaselineMean float64       `json:"baseline_mean"`
	RecentMean   float64       `json:"recent_mean"`
	DetectedAt   time.Time     `json:"detected_at"`
	Message      string        `json:"message"`
}

// DatasetArtifact is the immutable metadata record of one generated training
// dataset, tagged with everything needed to reproduce it.
type DatasetArtifact struct {
	DatasetID        string    `json:"dataset_id"`
	FeatureSetID     string    `json:"feature_set_id"`
	FeatureSetVer    int       `json:"feature_set_version"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	RowCount         int64     `json:"row_count"`
	CoverageWarnings int64     `json:"coverage_warnings"`
	CreatedAt        time.Time `json:"created_at"`
}
