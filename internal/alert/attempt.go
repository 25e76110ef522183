package alert

import "time"

// AttemptStatus tracks a notification attempt through dispatch.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptRetrying  AttemptStatus = "retrying"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
)

// Terminal reports whether the attempt has reached a final status.
func (s AttemptStatus) Terminal() bool { return s == AttemptDelivered || s == AttemptFailed }

// Attempt is one row per dispatch try against the notification gateway.
// Attempts are appended to the owning alert's history on terminal status.
type Attempt struct {
	ID                string        `json:"id"`
	AlertID           string        `json:"alert_id"`
	Step              int           `json:"step"`
	Channel           Channel       `json:"channel"`
	Recipient         string        `json:"recipient"`
	Template          string        `json:"template"`
	RenderedBody      string        `json:"rendered_body,omitempty"`
	AttemptedAt       time.Time     `json:"attempted_at"`
	Status            AttemptStatus `json:"status"`
	Retries           int           `json:"retries"`
	ProviderReceiptID string        `json:"provider_receipt_id,omitempty"`
	ErrorDetail       string        `json:"error_detail,omitempty"`
}
