// Package signal defines the normalized operational event fed into the
// classifier, and its validation rules.
package signal

import (
	"time"
)

// Source identifies the kind of operational condition a signal reports.
type Source string

const (
	SourcePaymentFraud    Source = "PAYMENT_FRAUD"
	SourceStockRunway     Source = "STOCK_RUNWAY"
	SourceDAInactivity    Source = "DA_INACTIVITY"
	SourcePaymentMismatch Source = "PAYMENT_MISMATCH"
	SourceGhostOrder      Source = "GHOST_ORDER"
	SourceSystemDown      Source = "SYSTEM_DOWN"
)

// knownSources is the set of source types the classifier understands.
var knownSources = map[Source]bool{
	SourcePaymentFraud:    true,
	SourceStockRunway:     true,
	SourceDAInactivity:    true,
	SourcePaymentMismatch: true,
	SourceGhostOrder:      true,
	SourceSystemDown:      true,
}

// Known reports whether s is a recognized source type.
func (s Source) Known() bool { return knownSources[s] }

// Signal is an immutable operational event. It is consumed by
// classification and not retained afterwards.
type Signal struct {
	SourceType Source             `json:"source_type"`
	SubjectID  string             `json:"subject_id"`
	ObservedAt time.Time          `json:"observed_at"`
	Metrics    map[string]float64 `json:"metrics"`
	Context    string             `json:"context,omitempty"`
}

// Fingerprint derives the deduplication key grouping signals about the
// same subject and condition into one alert.
func (s *Signal) Fingerprint() string {
	return string(s.SourceType) + ":" + s.SubjectID
}

// Metric returns the named metric and whether it is present.
func (s *Signal) Metric(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}
