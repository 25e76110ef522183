package signal

import "fmt"

// ValidationError reports a malformed signal or command input. Inputs
// failing validation are rejected, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: field %q: %s", e.Field, e.Reason)
}

// Validate checks structural requirements common to all signals.
// Per-source metric requirements are enforced by the classifier.
func (s *Signal) Validate() error {
	if s.SourceType == "" {
		return &ValidationError{Field: "source_type", Reason: "required"}
	}
	if !s.SourceType.Known() {
		return &ValidationError{Field: "source_type", Reason: fmt.Sprintf("unknown source type %q", s.SourceType)}
	}
	if s.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "required"}
	}
	if s.ObservedAt.IsZero() {
		return &ValidationError{Field: "observed_at", Reason: "required"}
	}
	for name, v := range s.Metrics {
		if v != v { // NaN never compares equal to itself
			return &ValidationError{Field: "metrics." + name, Reason: "not a number"}
		}
	}
	return nil
}
