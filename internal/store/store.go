// Package store defines the persistence boundary for alerts and
// notification attempts.
package store

import (
	"context"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	Severity  alert.Severity
	Type      signal.Source
	SubjectID string
	State     alert.State
}

// Matches reports whether a matches every set field of f.
func (f Filter) Matches(a *alert.Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.SubjectID != "" && a.SubjectID != f.SubjectID {
		return false
	}
	if f.State != "" && a.State != f.State {
		return false
	}
	return true
}

// Store is the persistence interface for alerts and attempts.
// Implementations return copies; mutating a returned value never
// affects stored state until it is written back.
type Store interface {
	// Get retrieves an alert by ID, including history.
	Get(ctx context.Context, id string) (*alert.Alert, bool, error)

	// GetLiveByFingerprint retrieves the non-terminal alert for a
	// fingerprint, if one exists. Terminal alerts never match.
	GetLiveByFingerprint(ctx context.Context, fingerprint string) (*alert.Alert, bool, error)

	// Put inserts or replaces an alert, including its history.
	Put(ctx context.Context, a *alert.Alert) error

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*alert.Alert, error)

	// Live returns all non-terminal alerts, for timer recovery at startup.
	Live(ctx context.Context) ([]*alert.Alert, error)

	// PutAttempt inserts or replaces a notification attempt by ID.
	PutAttempt(ctx context.Context, at *alert.Attempt) error

	// ListAttempts returns all attempts for an alert in creation order.
	ListAttempts(ctx context.Context, alertID string) ([]*alert.Attempt, error)
}
