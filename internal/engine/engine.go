// Package engine owns the alert lifecycle: signal ingestion with
// fingerprint dedup, acknowledge/resolve/escalate commands, deadline
// expiry handling and timer recovery after restart.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/classify"
	"github.com/linnemanlabs/klaxon/internal/policy"
	"github.com/linnemanlabs/klaxon/internal/schedule"
	"github.com/linnemanlabs/klaxon/internal/signal"
	"github.com/linnemanlabs/klaxon/internal/store"
)

// reArmDelay is how long to wait before retrying an expiry whose store
// write failed.
const reArmDelay = 30 * time.Second

// Scheduler arms and cancels per-alert deadline timers.
type Scheduler interface {
	Arm(t schedule.Timer)
	Cancel(alertID string)
}

// Notifier fans an escalation step's notification batch out to the
// gateway. Implemented by dispatch.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, a *alert.Alert, stepIdx int, step policy.Step, forced bool)
}

// IngestResult is the outcome of ingesting one signal.
type IngestResult struct {
	// AlertID is set when the signal created or merged into an alert.
	AlertID string

	// Created is true when a new alert was opened.
	Created bool

	// Merged is true when the signal folded into an existing live alert.
	Merged bool

	// NoOp is true when the signal was valid but below every threshold.
	NoOp bool

	Severity alert.Severity
}

// Service is the business boundary for alerting operations. All
// mutations of a given alert are serialized by its fingerprint.
type Service struct {
	store   store.Store
	pol     *policy.Policy
	sched   Scheduler
	np      Notifier
	logger  log.Logger
	metrics *Metrics

	locks *keyedMutex

	// now and newID are injectable for tests.
	now   func() time.Time
	newID func() string
}

// New creates the alerting engine. Store, policy, scheduler and
// notifier are required; logger may be nil and metrics may be nil.
func New(st store.Store, pol *policy.Policy, sched Scheduler, np Notifier, logger log.Logger, m *Metrics) *Service {
	if st == nil {
		panic("engine: nil store")
	}
	if pol == nil {
		panic("engine: nil policy")
	}
	if sched == nil {
		panic("engine: nil scheduler")
	}
	if np == nil {
		panic("engine: nil notifier")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:   st,
		pol:     pol,
		sched:   sched,
		np:      np,
		logger:  logger,
		metrics: m,
		locks:   newKeyedMutex(),
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
}

// Ingest validates and classifies a signal, then creates a new alert or
// merges into the live alert sharing its fingerprint. A valid signal
// below every threshold is accepted and discarded.
func (s *Service) Ingest(ctx context.Context, sig *signal.Signal) (*IngestResult, error) {
	if err := sig.Validate(); err != nil {
		s.countSignal(sig.SourceType, "rejected")
		return nil, err
	}
	draft, err := classify.Classify(sig)
	if err != nil {
		s.countSignal(sig.SourceType, "rejected")
		return nil, err
	}
	if draft == nil {
		s.countSignal(sig.SourceType, "noop")
		return &IngestResult{NoOp: true}, nil
	}

	fp := sig.Fingerprint()
	unlock := s.locks.Lock(fp)
	defer unlock()

	existing, ok, err := s.store.GetLiveByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.merge(ctx, existing, sig, draft)
	}
	return s.create(ctx, fp, sig, draft)
}

func (s *Service) create(ctx context.Context, fp string, sig *signal.Signal, draft *classify.Draft) (*IngestResult, error) {
	now := s.now()
	a := &alert.Alert{
		ID:            s.newID(),
		Fingerprint:   fp,
		Type:          draft.Type,
		SubjectID:     draft.SubjectID,
		Severity:      draft.Severity,
		State:         alert.StateOpen,
		Message:       draft.Message,
		RiskAmount:    draft.RiskAmount,
		AutoAction:    draft.AutoAction,
		CreatedAt:     now,
		LastSignalAt:  sig.ObservedAt,
		StepStartedAt: now,
		Version:       1,
	}
	a.Record(now, alert.EventCreated, fmt.Sprintf("opened at severity %s", a.Severity), "")

	step, ok := s.pol.Step(a.Severity, 0)
	if !ok {
		return nil, fmt.Errorf("no escalation policy for severity %q", a.Severity)
	}
	if err := s.store.Put(ctx, a); err != nil {
		return nil, err
	}

	s.countSignal(sig.SourceType, "created")
	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
		s.metrics.AlertsOpen.Inc()
	}
	s.logger.Info(ctx, "alert created",
		"alert_id", a.ID, "fingerprint", fp, "severity", a.Severity)

	s.np.Dispatch(ctx, a, 0, step, false)
	s.sched.Arm(schedule.Timer{
		AlertID: a.ID,
		Step:    0,
		Version: a.Version,
		Due:     now.Add(step.Deadline),
	})
	return &IngestResult{AlertID: a.ID, Created: true, Severity: a.Severity}, nil
}

// merge folds a repeated signal into the live alert. Severity only ever
// rises; a raise re-evaluates the current step's deadline against the
// stronger severity's ladder without resetting elapsed time. Only a
// raise bumps the version: a quiet repeat must leave the armed step
// timer valid so it cannot stall escalation.
func (s *Service) merge(ctx context.Context, a *alert.Alert, sig *signal.Signal, draft *classify.Draft) (*IngestResult, error) {
	now := s.now()
	a.LastSignalAt = sig.ObservedAt
	a.Message = draft.Message
	if !draft.RiskAmount.IsZero() {
		a.RiskAmount = draft.RiskAmount
	}
	if draft.AutoAction != "" {
		a.AutoAction = draft.AutoAction
	}
	a.Record(now, alert.EventSignalReceived, "", "")

	raised := !a.Severity.AtLeast(draft.Severity)
	if raised {
		a.Record(now, alert.EventSeverityRaised,
			fmt.Sprintf("%s -> %s", a.Severity, draft.Severity), "")
		a.Severity = draft.Severity
		a.Version++
	}

	if err := s.store.Put(ctx, a); err != nil {
		return nil, err
	}

	if raised && a.State != alert.StateAcknowledged {
		// The step index carries over; re-derive its deadline from the
		// new ladder, measured from the unchanged step start. A shorter
		// ladder clamps the lookup, never the stored step.
		if steps := s.pol.Steps(a.Severity); len(steps) > 0 {
			idx := a.EscalationStep
			if idx >= len(steps) {
				idx = len(steps) - 1
			}
			s.sched.Arm(schedule.Timer{
				AlertID: a.ID,
				Step:    idx,
				Version: a.Version,
				Due:     a.StepStartedAt.Add(steps[idx].Deadline),
			})
		}
	}

	s.countSignal(sig.SourceType, "merged")
	s.logger.Info(ctx, "signal merged",
		"alert_id", a.ID, "fingerprint", a.Fingerprint,
		"severity", a.Severity, "raised", raised)
	return &IngestResult{AlertID: a.ID, Merged: true, Severity: a.Severity}, nil
}

// Acknowledge marks an alert owned by a human and halts automatic
// escalation. Acknowledging an already-acknowledged alert is a no-op.
func (s *Service) Acknowledge(ctx context.Context, id, actor string) (*alert.Alert, error) {
	return s.command(ctx, id, func(a *alert.Alert) error {
		switch a.State {
		case alert.StateResolved, alert.StateExpired:
			return fmt.Errorf("%w: alert is %s", ErrConflict, a.State)
		case alert.StateAcknowledged:
			return errNoChange
		}
		now := s.now()
		a.State = alert.StateAcknowledged
		a.AcknowledgedBy = actor
		a.AcknowledgedAt = now
		a.Record(now, alert.EventAcknowledged, "", actor)
		if s.metrics != nil {
			s.metrics.AckLatency.Observe(now.Sub(a.CreatedAt).Seconds())
		}
		return nil
	})
}

// Resolve closes an alert. Resolving an already-resolved alert is a
// no-op; an expired alert cannot be resolved.
func (s *Service) Resolve(ctx context.Context, id, actor string) (*alert.Alert, error) {
	return s.command(ctx, id, func(a *alert.Alert) error {
		switch a.State {
		case alert.StateExpired:
			return fmt.Errorf("%w: alert is %s", ErrConflict, a.State)
		case alert.StateResolved:
			return errNoChange
		}
		now := s.now()
		a.State = alert.StateResolved
		a.ResolvedBy = actor
		a.ResolvedAt = now
		a.Record(now, alert.EventResolved, "", actor)
		if s.metrics != nil {
			s.metrics.AlertsOpen.Dec()
		}
		return nil
	})
}

// ManualEscalate forces the next escalation step's notification batch
// immediately, regardless of the current deadline. It works on
// acknowledged alerts too, but never restarts their timers. It fails
// with ErrConflict once the ladder is exhausted.
func (s *Service) ManualEscalate(ctx context.Context, id, actor string) (*alert.Alert, error) {
	var dispatchStep policy.Step
	var dispatchIdx int

	a, err := s.command(ctx, id, func(a *alert.Alert) error {
		if a.State.Terminal() {
			return fmt.Errorf("%w: alert is %s", ErrConflict, a.State)
		}
		next := a.EscalationStep + 1
		step, ok := s.pol.Step(a.Severity, next)
		if !ok {
			return fmt.Errorf("%w: escalation ladder exhausted", ErrConflict)
		}
		now := s.now()
		a.EscalationStep = next
		a.StepStartedAt = now
		if a.State != alert.StateAcknowledged {
			a.State = alert.StateEscalated
		}
		a.Record(now, alert.EventManualEscalate, fmt.Sprintf("forced step %d", next), actor)
		dispatchStep, dispatchIdx = step, next
		if s.metrics != nil {
			s.metrics.EscalationsTotal.WithLabelValues(string(a.Severity)).Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.np.Dispatch(ctx, a, dispatchIdx, dispatchStep, true)
	if a.State == alert.StateEscalated {
		s.sched.Arm(schedule.Timer{
			AlertID: a.ID,
			Step:    dispatchIdx,
			Version: a.Version,
			Due:     a.StepStartedAt.Add(dispatchStep.Deadline),
		})
	}
	return a, nil
}

// errNoChange signals an idempotent repeat inside command: return the
// current alert without writing or cancelling anything.
var errNoChange = fmt.Errorf("no change")

// command runs a state transition under the alert's fingerprint lock.
// mutate either changes a (then command bumps the version, persists and
// cancels the timer when terminal) or returns errNoChange / ErrConflict.
func (s *Service) command(ctx context.Context, id string, mutate func(*alert.Alert) error) (*alert.Alert, error) {
	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	unlock := s.locks.Lock(a.Fingerprint)
	defer unlock()

	// Re-read under the lock; the first read raced other mutations.
	a, ok, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	if err := mutate(a); err != nil {
		if err == errNoChange {
			return a, nil
		}
		return nil, err
	}

	a.Version++
	if err := s.store.Put(ctx, a); err != nil {
		return nil, err
	}
	if a.State == alert.StateAcknowledged || a.State.Terminal() {
		s.sched.Cancel(a.ID)
	}
	return a, nil
}

// HandleExpiry is the scheduler's ExpireFunc. A fired timer either
// advances the alert to the next escalation step or, when the ladder is
// exhausted, expires it. Stale timers (version mismatch, state already
// changed) are discarded.
func (s *Service) HandleExpiry(ctx context.Context, t schedule.Timer) {
	a, ok, err := s.store.Get(ctx, t.AlertID)
	if err != nil {
		s.logger.Error(ctx, err, "expiry: fetch failed, re-arming", "alert_id", t.AlertID)
		s.reArm(t)
		return
	}
	if !ok {
		return
	}

	unlock := s.locks.Lock(a.Fingerprint)
	defer unlock()

	a, ok, err = s.store.Get(ctx, t.AlertID)
	if err != nil {
		s.logger.Error(ctx, err, "expiry: fetch failed, re-arming", "alert_id", t.AlertID)
		s.reArm(t)
		return
	}
	if !ok || a.Version != t.Version {
		return
	}
	if a.State != alert.StateOpen && a.State != alert.StateEscalated {
		return
	}

	now := s.now()
	next := a.EscalationStep + 1
	step, more := s.pol.Step(a.Severity, next)
	if !more {
		a.State = alert.StateExpired
		a.Record(now, alert.EventExpired, "escalation ladder exhausted", "")
		a.Version++
		if err := s.store.Put(ctx, a); err != nil {
			s.logger.Error(ctx, err, "expiry: write failed, re-arming", "alert_id", a.ID)
			s.reArm(t)
			return
		}
		if s.metrics != nil {
			s.metrics.ExpiredTotal.Inc()
			s.metrics.AlertsOpen.Dec()
		}
		s.logger.Warn(ctx, "alert expired unacknowledged",
			"alert_id", a.ID, "severity", a.Severity, "steps", next)
		return
	}

	a.State = alert.StateEscalated
	a.EscalationStep = next
	a.StepStartedAt = now
	a.Record(now, alert.EventStepAdvanced, fmt.Sprintf("step %d", next), "")
	a.Version++
	if err := s.store.Put(ctx, a); err != nil {
		s.logger.Error(ctx, err, "expiry: write failed, re-arming", "alert_id", a.ID)
		s.reArm(t)
		return
	}
	if s.metrics != nil {
		s.metrics.EscalationsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
	s.logger.Info(ctx, "alert escalated",
		"alert_id", a.ID, "severity", a.Severity, "step", next)

	s.np.Dispatch(ctx, a, next, step, false)
	s.sched.Arm(schedule.Timer{
		AlertID: a.ID,
		Step:    next,
		Version: a.Version,
		Due:     now.Add(step.Deadline),
	})
}

// reArm retries a failed expiry after a short delay at the same version.
func (s *Service) reArm(t schedule.Timer) {
	t.Due = s.now().Add(reArmDelay)
	s.sched.Arm(t)
}

// Recover re-arms timers for every live unacknowledged alert, called
// once at startup. Deadlines already missed fire immediately through
// the queue's normal path; the current step is never re-notified.
func (s *Service) Recover(ctx context.Context) error {
	live, err := s.store.Live(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	armed := 0
	for _, a := range live {
		if s.metrics != nil {
			s.metrics.AlertsOpen.Inc()
		}
		if a.State == alert.StateAcknowledged {
			continue
		}
		idx := a.EscalationStep
		steps := s.pol.Steps(a.Severity)
		if len(steps) == 0 {
			s.logger.Warn(ctx, "recover: no policy for live alert",
				"alert_id", a.ID, "severity", a.Severity)
			continue
		}
		if idx >= len(steps) {
			idx = len(steps) - 1
		}
		s.sched.Arm(schedule.Timer{
			AlertID: a.ID,
			Step:    idx,
			Version: a.Version,
			Due:     a.StepStartedAt.Add(steps[idx].Deadline),
		})
		armed++
	}
	s.logger.Info(ctx, "recovered live alerts", "live", len(live), "timers", armed)
	return nil
}

// Get retrieves an alert with its notification attempts.
func (s *Service) Get(ctx context.Context, id string) (*alert.Alert, []*alert.Attempt, error) {
	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound
	}
	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a, attempts, nil
}

// List returns alerts matching the filter, newest first.
func (s *Service) List(ctx context.Context, f store.Filter) ([]*alert.Alert, error) {
	return s.store.List(ctx, f)
}

// ShouldSend implements dispatch.Sink: a queued notification is
// suppressed once its alert has been acknowledged, closed, or moved to
// a different step.
func (s *Service) ShouldSend(ctx context.Context, alertID string, step int) bool {
	a, ok, err := s.store.Get(ctx, alertID)
	if err != nil || !ok {
		return false
	}
	if a.State != alert.StateOpen && a.State != alert.StateEscalated {
		return false
	}
	return a.EscalationStep == step
}

// NotificationFinished implements dispatch.Sink, folding the attempt
// outcome into the alert's history.
func (s *Service) NotificationFinished(ctx context.Context, alertID string, at *alert.Attempt) {
	a, ok, err := s.store.Get(ctx, alertID)
	if err != nil || !ok {
		return
	}
	unlock := s.locks.Lock(a.Fingerprint)
	defer unlock()

	a, ok, err = s.store.Get(ctx, alertID)
	if err != nil || !ok {
		return
	}
	detail := fmt.Sprintf("%s to %s: %s", at.Channel, at.Recipient, at.Status)
	if at.ErrorDetail != "" {
		detail += " (" + at.ErrorDetail + ")"
	}
	a.Record(s.now(), alert.EventNotification, detail, "")
	if err := s.store.Put(ctx, a); err != nil {
		s.logger.Error(ctx, err, "record notification outcome", "alert_id", alertID)
	}
}

func (s *Service) countSignal(src signal.Source, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SignalsTotal.WithLabelValues(string(src), result).Inc()
}
