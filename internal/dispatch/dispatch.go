// Package dispatch turns an escalation step into notification attempts:
// it renders channel templates, sends through the gateway with
// per-channel rate limits, and retries transient failures with bounded
// backoff.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/gateway"
	"github.com/linnemanlabs/klaxon/internal/policy"
	"github.com/linnemanlabs/klaxon/internal/store"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 2 * time.Second
	sendTimeout        = 15 * time.Second
)

// Sink receives attempt outcomes and gates sends. Implemented by the
// alert engine; wired after construction to break the dependency knot.
type Sink interface {
	// ShouldSend reports whether a non-forced send for the given alert
	// and step may still proceed. Acknowledging or resolving an alert
	// suppresses the remainder of any in-flight batch.
	ShouldSend(ctx context.Context, alertID string, step int) bool

	// NotificationFinished is invoked once per attempt reaching a
	// terminal status.
	NotificationFinished(ctx context.Context, alertID string, at *alert.Attempt)
}

// Options tune dispatcher behaviour.
type Options struct {
	MaxRetries  int
	BaseBackoff time.Duration

	// RatePerChannel caps messages per second per channel to respect
	// provider throughput limits. Zero or absent means unlimited.
	RatePerChannel map[alert.Channel]float64
}

// Dispatcher sends escalation notifications. Batches run concurrently
// across alerts; within a batch, sends are sequenced so audit logs are
// reproducible.
type Dispatcher struct {
	gw       gateway.Sender
	store    store.Store
	pol      *policy.Policy
	logger   log.Logger
	metrics  *Metrics
	sink     Sink
	limiters map[alert.Channel]*rate.Limiter

	maxRetries  int
	baseBackoff time.Duration

	// now and after are replaceable in tests.
	now   func() time.Time
	after func(d time.Duration, f func())
}

// New creates a Dispatcher. Metrics may be nil.
func New(gw gateway.Sender, st store.Store, pol *policy.Policy, logger log.Logger, m *Metrics, opts Options) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}

	limiters := make(map[alert.Channel]*rate.Limiter)
	for ch, perSec := range opts.RatePerChannel {
		if perSec > 0 {
			limiters[ch] = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}

	return &Dispatcher{
		gw:          gw,
		store:       st,
		pol:         pol,
		logger:      logger.With("component", "dispatch"),
		metrics:     m,
		limiters:    limiters,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		now:         time.Now,
		after:       func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// SetSink wires the attempt sink. Must be called before the first
// dispatch.
func (d *Dispatcher) SetSink(s Sink) { d.sink = s }

// Dispatch sends one escalation step's notifications asynchronously.
// Attempts are sequenced recipients-first in policy order, channels in
// policy order per recipient. A failed attempt never blocks the rest of
// the batch. Forced batches (manual escalation) bypass the suppression
// check.
func (d *Dispatcher) Dispatch(ctx context.Context, a *alert.Alert, stepIdx int, step policy.Step, forced bool) {
	snapshot := a.Clone()
	go d.runBatch(context.WithoutCancel(ctx), snapshot, stepIdx, step, forced)
}

func (d *Dispatcher) runBatch(ctx context.Context, a *alert.Alert, stepIdx int, step policy.Step, forced bool) {
	recipients := d.pol.Recipients(a.Type, step)

	L := d.logger.With("alert_id", a.ID, "step", stepIdx)
	L.Info(ctx, "dispatching escalation step",
		"severity", a.Severity,
		"recipients", len(recipients),
		"channels", len(step.Channels),
	)

	for _, recipient := range recipients {
		for _, ch := range step.Channels {
			if !forced && d.sink != nil && !d.sink.ShouldSend(ctx, a.ID, stepIdx) {
				L.Info(ctx, "batch suppressed, alert no longer eligible", "recipient", recipient, "channel", ch)
				return
			}

			at := &alert.Attempt{
				ID:          ulid.Make().String(),
				AlertID:     a.ID,
				Step:        stepIdx,
				Channel:     ch,
				Recipient:   recipient,
				Template:    policy.TemplateKey(a.Type, ch),
				AttemptedAt: d.now(),
				Status:      alert.AttemptPending,
			}

			body, err := Render(d.pol.Template(a.Type, ch), a)
			if err != nil {
				// a broken template fails this attempt without aborting the batch
				at.Status = alert.AttemptFailed
				at.ErrorDetail = err.Error()
				d.finish(ctx, at)
				continue
			}
			at.RenderedBody = body

			if err := d.store.PutAttempt(ctx, at); err != nil {
				L.Error(ctx, err, "failed to record pending attempt", "recipient", recipient, "channel", ch)
			}

			d.send(ctx, at, 0)
		}
	}
}

// send performs one delivery try. Transient failures re-enqueue through
// a delayed callback rather than sleeping on the caller's goroutine.
func (d *Dispatcher) send(ctx context.Context, at *alert.Attempt, try int) {
	if lim := d.limiters[at.Channel]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			at.Status = alert.AttemptFailed
			at.ErrorDetail = "rate limiter: " + err.Error()
			d.finish(ctx, at)
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	start := time.Now()
	receipt, err := d.gw.Send(sendCtx, at.Channel, at.Recipient, at.RenderedBody)
	cancel()
	if d.metrics != nil {
		d.metrics.SendDuration.WithLabelValues(string(at.Channel)).Observe(time.Since(start).Seconds())
	}

	at.AttemptedAt = d.now()

	switch {
	case err == nil:
		at.Status = alert.AttemptDelivered
		at.ProviderReceiptID = receipt.ID
		at.ErrorDetail = ""
		d.finish(ctx, at)

	case gateway.IsTransient(err) && try < d.maxRetries:
		at.Status = alert.AttemptRetrying
		at.Retries = try + 1
		at.ErrorDetail = err.Error()
		if perr := d.store.PutAttempt(ctx, at); perr != nil {
			d.logger.Error(ctx, perr, "failed to record retrying attempt", "attempt_id", at.ID)
		}
		if d.metrics != nil {
			d.metrics.RetriesTotal.WithLabelValues(string(at.Channel)).Inc()
		}

		delay := d.backoff(try)
		d.logger.Info(ctx, "transient delivery failure, retrying",
			"attempt_id", at.ID,
			"alert_id", at.AlertID,
			"channel", at.Channel,
			"try", try+1,
			"delay", delay,
		)
		d.after(delay, func() { d.send(ctx, at, try+1) })

	default:
		// permanent failure, or retry budget exhausted
		at.Status = alert.AttemptFailed
		at.ErrorDetail = err.Error()
		d.finish(ctx, at)
	}
}

// finish records a terminal attempt and notifies the sink.
func (d *Dispatcher) finish(ctx context.Context, at *alert.Attempt) {
	if err := d.store.PutAttempt(ctx, at); err != nil {
		d.logger.Error(ctx, err, "failed to record attempt", "attempt_id", at.ID)
	}

	if d.metrics != nil {
		d.metrics.AttemptsTotal.WithLabelValues(string(at.Channel), string(at.Status)).Inc()
	}

	if at.Status == alert.AttemptFailed {
		d.logger.Warn(ctx, "notification attempt failed",
			"attempt_id", at.ID,
			"alert_id", at.AlertID,
			"channel", at.Channel,
			"recipient", at.Recipient,
			"error", at.ErrorDetail,
		)
	}

	if d.sink != nil {
		d.sink.NotificationFinished(ctx, at.AlertID, at)
	}
}

// backoff returns the delay before retry try+1: exponential from the
// base, with up to 50% added jitter.
func (d *Dispatcher) backoff(try int) time.Duration {
	base := d.baseBackoff << uint(try)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1)) //nolint:gosec // G404: jitter does not need crypto randomness
	return base + jitter
}
