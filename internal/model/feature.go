// Package model defines the domain types shared across the feature store:
// feature definitions and sets, offline facts, online vectors, statistics,
// compute runs, and drift alerts.
package model

import (
	"fmt"
	"time"
)

// ValueType declares what kind of value a feature produces.
type ValueType string

const (
	TypeNumeric     ValueType = "numeric"
	TypeBoolean     ValueType = "boolean"
	TypeCategorical ValueType = "categorical"
	TypeJSON        ValueType = "json"
)

// Valid reports whether the value type is one of the declared types.
func (v ValueType) Valid() bool {
	switch v {
	case TypeNumeric, TypeBoolean, TypeCategorical, TypeJSON:
		return true
	}
	return false
}

// ComputeMode declares how a feature is materialized.
type ComputeMode string

const (
	ModeBatch     ComputeMode = "batch"
	ModeStreaming ComputeMode = "streaming"
)

// Valid reports whether the compute mode is batch or streaming.
func (m ComputeMode) Valid() bool {
	return m == ModeBatch || m == ModeStreaming
}

// Cadence describes how often a batch feature is recomputed.
type Cadence string

const (
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Valid reports whether the cadence is a known refresh interval.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceHourly, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// FeatureDefinition is one versioned entry in the feature catalog.
// A feature_id's value type and compute mode never change in place; a new
// version row is created instead. Definitions are deactivated, never deleted.
type FeatureDefinition struct {
	FeatureID   string      `json:"feature_id"`
	DisplayName string      `json:"display_name"`
	Group       string      `json:"group"`
	EntityType  string      `json:"entity_type"`
	ValueType   ValueType   `json:"value_type"`
	Mode        ComputeMode `json:"mode"`
	Expression  string      `json:"expression"`
	Cadence     Cadence     `json:"cadence"`
	Version     int         `json:"version"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks the fields a registry write requires. It returns
// ErrValidation-wrapped errors so callers can distinguish bad input from
// storage failures.
func (d *FeatureDefinition) Validate() error {
	if d.FeatureID == "" {
		return fmt.Errorf("%w: feature_id is required", ErrValidation)
	}
	if d.DisplayName == "" {
		return fmt.Errorf("%w: display_name is required", ErrValidation)
	}
	if d.EntityType == "" {
		return fmt.Errorf("%w: entity_type is required", ErrValidation)
	}
	if !d.ValueType.Valid() {
		return fmt.Errorf("%w: unknown value_type %q", ErrValidation, d.ValueType)
	}
	if !d.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, d.Mode)
	}
	if d.Mode == ModeBatch && !d.Cadence.Valid() {
		return fmt.Errorf("%w: batch feature requires a cadence, got %q", ErrValidation, d.Cadence)
	}
	return nil
}

// FeatureSet is a named, ordered list of features used together. Members are
// snapshotted by value at creation: deactivating a member later does not
// change the set's historical meaning.
type FeatureSet struct {
	SetID     string    `json:"set_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Features  []string  `json:"features"` // feature_ids in declared order
	CreatedAt time.Time `json:"created_at"`
}
