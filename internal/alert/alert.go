// Package alert defines the mutable alert aggregate and its lifecycle
// vocabulary: severity tiers, states, delivery channels, history events
// and notification attempts.
package alert

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/klaxon/internal/signal"
)

// Severity is the classification tier of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// rank orders severities so raise-only merging can compare them.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether s is the same tier as other or higher.
func (s Severity) AtLeast(other Severity) bool { return s.rank() >= other.rank() }

// Valid reports whether s is a recognized severity tier.
func (s Severity) Valid() bool { return s.rank() > 0 }

// State tracks where an alert is in its lifecycle.
type State string

const (
	// StateOpen means created, awaiting acknowledgement, step 0 timer armed.
	StateOpen State = "open"

	// StateAcknowledged means a human has taken ownership; automatic
	// escalation is halted.
	StateAcknowledged State = "acknowledged"

	// StateEscalated means at least one deadline expired without
	// acknowledgement and a later escalation step is active.
	StateEscalated State = "escalated"

	// StateResolved means a human closed the alert.
	StateResolved State = "resolved"

	// StateExpired means the final escalation step's deadline passed with
	// no acknowledgement. Kept for audit.
	StateExpired State = "expired"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool { return s == StateResolved || s == StateExpired }

// Live reports whether signals may still merge into an alert in this state.
func (s State) Live() bool { return !s.Terminal() }

// Channel is a delivery mechanism for escalation notifications.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice_call"
)

// Valid reports whether c is a recognized channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelVoice:
		return true
	}
	return false
}

// EventKind categorizes alert history entries.
type EventKind string

const (
	EventCreated        EventKind = "created"
	EventSignalReceived EventKind = "signal_received"
	EventSeverityRaised EventKind = "severity_raised"
	EventStepAdvanced   EventKind = "step_advanced"
	EventNotification   EventKind = "notification"
	EventAcknowledged   EventKind = "acknowledged"
	EventResolved       EventKind = "resolved"
	EventExpired        EventKind = "expired"
	EventManualEscalate EventKind = "manual_escalate"
)

// Event is one entry in an alert's ordered history.
type Event struct {
	At     time.Time `json:"at"`
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	Actor  string    `json:"actor,omitempty"`
}

// Alert is the mutable aggregate the service manages. At most one
// non-terminal Alert exists per fingerprint at any time.
type Alert struct {
	ID          string        `json:"id"`
	Fingerprint string        `json:"fingerprint"`
	Type        signal.Source `json:"type"`
	SubjectID   string        `json:"subject_id"`
	Severity    Severity      `json:"severity"`
	State       State         `json:"state"`
	Message     string        `json:"message"`

	// RiskAmount is the money at risk in naira. Zero means unknown.
	RiskAmount decimal.Decimal `json:"risk_amount"`

	// AutoAction describes an automatic mitigation already applied,
	// e.g. "payouts frozen". Empty if none.
	AutoAction string `json:"auto_action,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastSignalAt time.Time `json:"last_signal_at"`

	// EscalationStep is the 0-based index into the severity's policy
	// steps. Monotonic non-decreasing while the alert is live.
	EscalationStep int `json:"escalation_step"`

	// StepStartedAt is when the current escalation step began. Deadlines
	// are measured from here, never from LastSignalAt.
	StepStartedAt time.Time `json:"step_started_at"`

	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitzero"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitzero"`

	// Version fences concurrent mutation: every state-changing write
	// increments it, and a scheduler timer fired against a stale version
	// is a no-op.
	Version uint64 `json:"version"`

	History []Event `json:"history,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.History = make([]Event, len(a.History))
	copy(cp.History, a.History)
	return &cp
}

// Record appends a history event.
func (a *Alert) Record(at time.Time, kind EventKind, detail, actor string) {
	a.History = append(a.History, Event{At: at, Kind: kind, Detail: detail, Actor: actor})
}
