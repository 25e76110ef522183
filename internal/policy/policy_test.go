package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}

	step0, ok := p.Step(alert.SeverityCritical, 0)
	if !ok {
		t.Fatal("critical step 0 missing")
	}
	if step0.Deadline != 15*time.Minute {
		t.Errorf("critical step 0 deadline = %v, want 15m", step0.Deadline)
	}
	if len(step0.Recipients) != 1 || step0.Recipients[0] != RoleGMPrimary {
		t.Errorf("critical step 0 recipients = %v, want [%s]", step0.Recipients, RoleGMPrimary)
	}

	step1, ok := p.Step(alert.SeverityCritical, 1)
	if !ok {
		t.Fatal("critical step 1 missing")
	}
	if step1.Deadline != 30*time.Minute {
		t.Errorf("critical step 1 deadline = %v, want 30m", step1.Deadline)
	}

	if _, ok := p.Step(alert.SeverityCritical, 2); ok {
		t.Error("critical ladder should have exactly 2 steps")
	}
}

func TestRecipients_TypeRouting(t *testing.T) {
	t.Parallel()

	p := Default()
	step, _ := p.Step(alert.SeverityHigh, 0)

	// Stock alerts pull in the supply team on top of the ladder.
	got := p.Recipients(signal.SourceStockRunway, step)
	if len(got) != 2 || got[0] != RoleGMPrimary || got[1] != RoleSupplyTeam {
		t.Errorf("stock recipients = %v, want [%s %s]", got, RoleGMPrimary, RoleSupplyTeam)
	}

	// Outages page the CTO on-call alongside GM and COO.
	crit, _ := p.Step(alert.SeverityCritical, 1)
	got = p.Recipients(signal.SourceSystemDown, crit)
	want := []string{RoleGMPrimary, RoleCOOBackup, RoleCTOOnCall}
	if len(got) != len(want) {
		t.Fatalf("outage recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outage recipients = %v, want %v", got, want)
			break
		}
	}

	// Types without extras keep the step list untouched.
	got = p.Recipients(signal.SourcePaymentFraud, step)
	if len(got) != 1 || got[0] != RoleGMPrimary {
		t.Errorf("fraud recipients = %v, want [%s]", got, RoleGMPrimary)
	}

	// Extras never duplicate a recipient already on the step.
	dup := Step{Recipients: []string{RoleSupplyTeam}}
	got = p.Recipients(signal.SourceStockRunway, dup)
	if len(got) != 1 {
		t.Errorf("deduped recipients = %v, want exactly one", got)
	}
}

func TestValidate_UnknownTypeRecipient(t *testing.T) {
	t.Parallel()

	p := Default()
	p.TypeRecipients[signal.Source("VOLCANO")] = []string{RoleGMPrimary}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown source type") {
		t.Errorf("Validate() = %v, want unknown source type error", err)
	}
}

func TestStep_OutOfRange(t *testing.T) {
	t.Parallel()

	p := Default()
	if _, ok := p.Step(alert.SeverityHigh, -1); ok {
		t.Error("negative index should be out of range")
	}
	if _, ok := p.Step("unknown", 0); ok {
		t.Error("unknown severity should have no steps")
	}
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	t.Parallel()

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") = %v", err)
	}
	if len(p.Steps(alert.SeverityCritical)) != 2 {
		t.Errorf("critical steps = %d, want 2", len(p.Steps(alert.SeverityCritical)))
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	const doc = `
severities:
  critical:
    - deadline: 10m
      channels: [sms, whatsapp]
      recipients: [GM_PRIMARY]
    - deadline: 20m
      channels: [voice_call]
      recipients: [GM_PRIMARY, COO_BACKUP]
  high:
    - deadline: 45m
      channels: [sms]
      recipients: [SUPPLY_TEAM]
  medium:
    - deadline: 3h
      channels: [whatsapp]
      recipients: [GM_PRIMARY]
templates:
  PAYMENT_FRAUD/sms: "custom fraud {subject}"
`
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	step, ok := p.Step(alert.SeverityCritical, 0)
	if !ok {
		t.Fatal("critical step 0 missing")
	}
	if step.Deadline != 10*time.Minute {
		t.Errorf("deadline = %v, want 10m", step.Deadline)
	}
	if len(step.Channels) != 2 || step.Channels[0] != alert.ChannelSMS {
		t.Errorf("channels = %v", step.Channels)
	}

	// File templates win, missing keys fall back to built-ins.
	if got := p.Template(signal.SourcePaymentFraud, alert.ChannelSMS); got != "custom fraud {subject}" {
		t.Errorf("fraud sms template = %q", got)
	}
	if got := p.Template(signal.SourceStockRunway, alert.ChannelSMS); !strings.Contains(got, "STOCK ALERT") {
		t.Errorf("stock sms template lost fallback: %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad deadline",
			doc: `
severities:
  critical:
    - deadline: soon
      channels: [sms]
      recipients: [GM_PRIMARY]
`,
			want: "parse step deadline",
		},
		{
			name: "missing severity",
			doc: `
severities:
  critical:
    - deadline: 10m
      channels: [sms]
      recipients: [GM_PRIMARY]
  high:
    - deadline: 1h
      channels: [sms]
      recipients: [GM_PRIMARY]
`,
			want: `severity "medium" has no escalation steps`,
		},
		{
			name: "unknown channel",
			doc: `
severities:
  critical:
    - deadline: 10m
      channels: [carrier_pigeon]
      recipients: [GM_PRIMARY]
  high:
    - deadline: 1h
      channels: [sms]
      recipients: [GM_PRIMARY]
  medium:
    - deadline: 2h
      channels: [sms]
      recipients: [GM_PRIMARY]
`,
			want: "unknown channel",
		},
		{
			name: "no recipients",
			doc: `
severities:
  critical:
    - deadline: 10m
      channels: [sms]
      recipients: []
  high:
    - deadline: 1h
      channels: [sms]
      recipients: [GM_PRIMARY]
  medium:
    - deadline: 2h
      channels: [sms]
      recipients: [GM_PRIMARY]
`,
			want: "at least one recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "policy.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestTemplate_Fallback(t *testing.T) {
	t.Parallel()

	p := Default()

	// SYSTEM_DOWN has no dedicated templates; it uses the generic ones.
	got := p.Template(signal.SourceSystemDown, alert.ChannelSMS)
	if !strings.Contains(got, "{severity}") {
		t.Errorf("fallback template = %q, want generic with severity placeholder", got)
	}
}
