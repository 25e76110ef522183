package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/gateway"
	"github.com/linnemanlabs/klaxon/internal/policy"
	"github.com/linnemanlabs/klaxon/internal/signal"
	"github.com/linnemanlabs/klaxon/internal/store/memstore"
)

// fakeGateway records sends and returns scripted errors per call index.
type fakeGateway struct {
	mu    sync.Mutex
	sends []sendCall
	errs  []error // errs[i] returned for call i; nil or out of range = success
}

type sendCall struct {
	channel   alert.Channel
	recipient string
	body      string
}

func (f *fakeGateway) Send(_ context.Context, ch alert.Channel, recipient, body string) (gateway.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.sends)
	f.sends = append(f.sends, sendCall{channel: ch, recipient: recipient, body: body})
	if idx < len(f.errs) && f.errs[idx] != nil {
		return gateway.Receipt{}, f.errs[idx]
	}
	return gateway.Receipt{ID: "rcpt-ok"}, nil
}

func (f *fakeGateway) calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.sends))
	copy(out, f.sends)
	return out
}

// fakeSink allows per-test suppression and captures finished attempts.
type fakeSink struct {
	mu        sync.Mutex
	allow     func(step int, sent int) bool
	finished  []*alert.Attempt
	sentCount int
}

func (f *fakeSink) ShouldSend(_ context.Context, _ string, step int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := f.allow == nil || f.allow(step, f.sentCount)
	if ok {
		f.sentCount++
	}
	return ok
}

func (f *fakeSink) NotificationFinished(_ context.Context, _ string, at *alert.Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *at
	f.finished = append(f.finished, &cp)
}

func (f *fakeSink) done() []*alert.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*alert.Attempt, len(f.finished))
	copy(out, f.finished)
	return out
}

func testAlert() *alert.Alert {
	return &alert.Alert{
		ID:          "a-1",
		Fingerprint: "PAYMENT_FRAUD:order-1",
		Type:        signal.SourcePaymentFraud,
		SubjectID:   "order-1",
		Severity:    alert.SeverityCritical,
		State:       alert.StateOpen,
		Message:     "97% confidence",
		RiskAmount:  decimal.NewFromInt(45000),
		AutoAction:  "payouts frozen",
	}
}

func newTestDispatcher(t *testing.T, gw gateway.Sender, sink Sink) (*Dispatcher, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	d := New(gw, st, policy.Default(), nil, nil, Options{})
	// run retries inline so tests are deterministic
	d.after = func(_ time.Duration, f func()) { f() }
	if sink != nil {
		d.SetSink(sink)
	}
	return d, st
}

func TestRunBatch_FullFanout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{}
	sink := &fakeSink{}
	d, st := newTestDispatcher(t, gw, sink)

	step := policy.Step{
		Deadline:   30 * time.Minute,
		Channels:   []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp},
		Recipients: []string{policy.RoleGMPrimary, policy.RoleCOOBackup},
	}
	d.runBatch(ctx, testAlert(), 1, step, false)

	calls := gw.calls()
	if len(calls) != 4 {
		t.Fatalf("sends = %d, want 4 (2 recipients x 2 channels)", len(calls))
	}
	// Recipients outer, channels inner, both in policy order.
	wantOrder := []sendCall{
		{channel: alert.ChannelSMS, recipient: policy.RoleGMPrimary},
		{channel: alert.ChannelWhatsApp, recipient: policy.RoleGMPrimary},
		{channel: alert.ChannelSMS, recipient: policy.RoleCOOBackup},
		{channel: alert.ChannelWhatsApp, recipient: policy.RoleCOOBackup},
	}
	for i, want := range wantOrder {
		if calls[i].channel != want.channel || calls[i].recipient != want.recipient {
			t.Errorf("call %d = %s/%s, want %s/%s", i, calls[i].recipient, calls[i].channel, want.recipient, want.channel)
		}
	}

	attempts, _ := st.ListAttempts(ctx, "a-1")
	if len(attempts) != 4 {
		t.Fatalf("recorded attempts = %d, want 4", len(attempts))
	}
	for _, at := range attempts {
		if at.Status != alert.AttemptDelivered {
			t.Errorf("attempt %s status = %s, want delivered", at.ID, at.Status)
		}
		if at.ProviderReceiptID != "rcpt-ok" {
			t.Errorf("attempt %s receipt = %q", at.ID, at.ProviderReceiptID)
		}
		if at.Step != 1 {
			t.Errorf("attempt %s step = %d, want 1", at.ID, at.Step)
		}
	}
	if len(sink.done()) != 4 {
		t.Errorf("sink notified %d times, want 4", len(sink.done()))
	}
}

func TestRunBatch_TypeRoutedRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{}
	d, _ := newTestDispatcher(t, gw, &fakeSink{})

	a := &alert.Alert{
		ID:          "a-2",
		Fingerprint: "STOCK_RUNWAY:sku-9",
		Type:        signal.SourceStockRunway,
		SubjectID:   "sku-9",
		Severity:    alert.SeverityHigh,
		State:       alert.StateOpen,
		Message:     "2 days of stock left",
		RiskAmount:  decimal.NewFromInt(120000),
	}
	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS},
		Recipients: []string{policy.RoleGMPrimary},
	}
	d.runBatch(ctx, a, 0, step, false)

	calls := gw.calls()
	if len(calls) != 2 {
		t.Fatalf("sends = %d, want 2 (supply team routed in for stock alerts)", len(calls))
	}
	if calls[0].recipient != policy.RoleGMPrimary || calls[1].recipient != policy.RoleSupplyTeam {
		t.Errorf("recipients = %s, %s, want %s then %s",
			calls[0].recipient, calls[1].recipient, policy.RoleGMPrimary, policy.RoleSupplyTeam)
	}
}

func TestRunBatch_PermanentFailureDoesNotBlockBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{errs: []error{&gateway.PermanentError{Detail: "invalid recipient"}}}
	d, st := newTestDispatcher(t, gw, &fakeSink{})

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp},
		Recipients: []string{policy.RoleGMPrimary},
	}
	d.runBatch(ctx, testAlert(), 0, step, false)

	if got := len(gw.calls()); got != 2 {
		t.Fatalf("sends = %d, want 2 (failure must not stop batch)", got)
	}

	attempts, _ := st.ListAttempts(ctx, "a-1")
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Status != alert.AttemptFailed {
		t.Errorf("first attempt = %s, want failed", attempts[0].Status)
	}
	if attempts[0].ErrorDetail == "" {
		t.Error("failed attempt has empty error detail")
	}
	if attempts[1].Status != alert.AttemptDelivered {
		t.Errorf("second attempt = %s, want delivered", attempts[1].Status)
	}
}

func TestSend_TransientRetriesThenDelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{errs: []error{
		&gateway.TransientError{Detail: "timeout"},
		&gateway.TransientError{Detail: "503"},
	}}
	d, st := newTestDispatcher(t, gw, &fakeSink{})

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS},
		Recipients: []string{policy.RoleGMPrimary},
	}
	d.runBatch(ctx, testAlert(), 0, step, false)

	if got := len(gw.calls()); got != 3 {
		t.Fatalf("sends = %d, want 3 (two transient failures + success)", got)
	}

	attempts, _ := st.ListAttempts(ctx, "a-1")
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (retries update the same attempt)", len(attempts))
	}
	at := attempts[0]
	if at.Status != alert.AttemptDelivered {
		t.Errorf("status = %s, want delivered", at.Status)
	}
	if at.Retries != 2 {
		t.Errorf("retries = %d, want 2", at.Retries)
	}
}

func TestSend_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	transient := &gateway.TransientError{Detail: "always down"}
	gw := &fakeGateway{errs: []error{transient, transient, transient, transient, transient}}
	sink := &fakeSink{}
	st := memstore.New()
	d := New(gw, st, policy.Default(), nil, nil, Options{MaxRetries: 2})
	d.after = func(_ time.Duration, f func()) { f() }
	d.SetSink(sink)

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS},
		Recipients: []string{policy.RoleGMPrimary},
	}
	d.runBatch(ctx, testAlert(), 0, step, false)

	// initial try + 2 retries
	if got := len(gw.calls()); got != 3 {
		t.Fatalf("sends = %d, want 3", got)
	}
	attempts, _ := st.ListAttempts(ctx, "a-1")
	if attempts[0].Status != alert.AttemptFailed {
		t.Errorf("status = %s, want failed after budget", attempts[0].Status)
	}
	finished := sink.done()
	if len(finished) != 1 || finished[0].Status != alert.AttemptFailed {
		t.Errorf("sink finished = %+v, want one failed attempt", finished)
	}
}

func TestRunBatch_SuppressedMidBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{}
	// Allow the first send, then suppress (alert acknowledged mid-batch).
	sink := &fakeSink{allow: func(_ int, sent int) bool { return sent < 1 }}
	d, _ := newTestDispatcher(t, gw, sink)

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp},
		Recipients: []string{policy.RoleGMPrimary, policy.RoleCOOBackup},
	}
	d.runBatch(ctx, testAlert(), 0, step, false)

	if got := len(gw.calls()); got != 1 {
		t.Errorf("sends = %d, want 1 (remainder suppressed)", got)
	}
}

func TestRunBatch_ForcedBypassesSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{}
	sink := &fakeSink{allow: func(int, int) bool { return false }}
	d, _ := newTestDispatcher(t, gw, sink)

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS},
		Recipients: []string{policy.RoleGMPrimary, policy.RoleCOOBackup},
	}
	d.runBatch(ctx, testAlert(), 1, step, true)

	if got := len(gw.calls()); got != 2 {
		t.Errorf("sends = %d, want 2 (forced batch ignores suppression)", got)
	}
}

func TestRunBatch_RendersTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gw := &fakeGateway{}
	d, _ := newTestDispatcher(t, gw, &fakeSink{})

	step := policy.Step{
		Channels:   []alert.Channel{alert.ChannelSMS},
		Recipients: []string{policy.RoleGMPrimary},
	}
	d.runBatch(ctx, testAlert(), 0, step, false)

	calls := gw.calls()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	want := "FRAUD ALERT: order-1 - 97% confidence. Risk: ₦45000. Action needed immediately."
	if calls[0].body != want {
		t.Errorf("body = %q, want %q", calls[0].body, want)
	}
}
