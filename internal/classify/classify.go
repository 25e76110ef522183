// Package classify applies static rule thresholds to incoming signals,
// producing zero or one alert draft per signal.
package classify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

// Draft is the classifier's proposal for a new or merged alert.
type Draft struct {
	Type       signal.Source
	SubjectID  string
	Severity   alert.Severity
	Message    string
	RiskAmount decimal.Decimal
	AutoAction string
}

// Classification thresholds. Fraud-style confidences are percentages,
// runway and inactivity are days.
const (
	fraudCriticalConfidence = 95
	fraudHighConfidence     = 85

	stockCriticalDays = 2
	stockHighDays     = 4

	inactivityHighDays   = 5
	inactivityMediumDays = 3

	mismatchHighNaira = 50_000

	systemDownCriticalMinutes = 5
)

// Classify evaluates a validated signal against the rule thresholds.
// It returns (nil, nil) when no threshold is crossed. When a signal
// matches several tiers, the highest severity wins. A missing required
// metric is a validation error; the signal is rejected, not retried.
func Classify(sig *signal.Signal) (*Draft, error) {
	switch sig.SourceType {
	case signal.SourcePaymentFraud, signal.SourceGhostOrder:
		return classifyConfidence(sig)
	case signal.SourceStockRunway:
		return classifyStockRunway(sig)
	case signal.SourceDAInactivity:
		return classifyInactivity(sig)
	case signal.SourcePaymentMismatch:
		return classifyMismatch(sig)
	case signal.SourceSystemDown:
		return classifySystemDown(sig)
	}
	return nil, &signal.ValidationError{Field: "source_type", Reason: fmt.Sprintf("unknown source type %q", sig.SourceType)}
}

func classifyConfidence(sig *signal.Signal) (*Draft, error) {
	confidence, ok := sig.Metric("confidence")
	if !ok {
		return nil, &signal.ValidationError{Field: "metrics.confidence", Reason: "required"}
	}

	var severity alert.Severity
	var autoAction string
	switch {
	case confidence >= fraudCriticalConfidence:
		severity = alert.SeverityCritical
		autoAction = "payouts frozen"
	case confidence >= fraudHighConfidence:
		severity = alert.SeverityHigh
	default:
		return nil, nil
	}

	if sig.SourceType == signal.SourceGhostOrder {
		autoAction = "phone number blocked"
	}

	d := draft(sig, severity)
	d.AutoAction = autoAction
	d.Message = fmt.Sprintf("%s: %.0f%% confidence", sig.SubjectID, confidence)
	if sig.Context != "" {
		d.Message = sig.Context
	}
	return d, nil
}

func classifyStockRunway(sig *signal.Signal) (*Draft, error) {
	days, ok := sig.Metric("daysRemaining")
	if !ok {
		return nil, &signal.ValidationError{Field: "metrics.daysRemaining", Reason: "required"}
	}

	var severity alert.Severity
	switch {
	case days <= stockCriticalDays:
		severity = alert.SeverityCritical
	case days <= stockHighDays:
		severity = alert.SeverityHigh
	default:
		return nil, nil
	}

	d := draft(sig, severity)
	d.AutoAction = "stock replenishment requested"
	d.Message = fmt.Sprintf("%s stock critical - %.1f days remaining", sig.SubjectID, days)
	if sig.Context != "" {
		d.Message = sig.Context
	}
	return d, nil
}

func classifyInactivity(sig *signal.Signal) (*Draft, error) {
	days, ok := sig.Metric("days")
	if !ok {
		return nil, &signal.ValidationError{Field: "metrics.days", Reason: "required"}
	}

	var severity alert.Severity
	switch {
	case days >= inactivityHighDays:
		severity = alert.SeverityHigh
	case days >= inactivityMediumDays:
		severity = alert.SeverityMedium
	default:
		return nil, nil
	}

	d := draft(sig, severity)
	d.AutoAction = "stock redistribution initiated"
	d.Message = fmt.Sprintf("%s - %.0f days no movement", sig.SubjectID, days)
	if sig.Context != "" {
		d.Message = sig.Context
	}
	return d, nil
}

func classifyMismatch(sig *signal.Signal) (*Draft, error) {
	amount, ok := sig.Metric("amount")
	if !ok {
		return nil, &signal.ValidationError{Field: "metrics.amount", Reason: "required"}
	}

	severity := alert.SeverityMedium
	if amount >= mismatchHighNaira {
		severity = alert.SeverityHigh
	}

	d := draft(sig, severity)
	d.Message = fmt.Sprintf("%s: payment mismatch of ₦%.0f", sig.SubjectID, amount)
	if sig.Context != "" {
		d.Message = sig.Context
	}
	return d, nil
}

func classifySystemDown(sig *signal.Signal) (*Draft, error) {
	minutes, ok := sig.Metric("offlineMinutes")
	if !ok {
		return nil, &signal.ValidationError{Field: "metrics.offlineMinutes", Reason: "required"}
	}
	if minutes < systemDownCriticalMinutes {
		return nil, nil
	}

	d := draft(sig, alert.SeverityCritical)
	d.Message = fmt.Sprintf("%s offline for %.0f minutes", sig.SubjectID, minutes)
	if sig.Context != "" {
		d.Message = sig.Context
	}
	return d, nil
}

func draft(sig *signal.Signal, severity alert.Severity) *Draft {
	d := &Draft{
		Type:      sig.SourceType,
		SubjectID: sig.SubjectID,
		Severity:  severity,
	}
	if risk, ok := sig.Metric("riskAmount"); ok {
		d.RiskAmount = decimal.NewFromFloat(risk)
	}
	return d
}
