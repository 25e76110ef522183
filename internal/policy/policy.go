// Package policy holds the escalation configuration: per-severity step
// ladders (deadline, channels, recipients) and per-channel message
// templates. Loaded once at startup and shared read-only.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

// Well-known recipient roles from the operations runbook.
const (
	RoleGMPrimary  = "GM_PRIMARY"
	RoleCOOBackup  = "COO_BACKUP"
	RoleSupplyTeam = "SUPPLY_TEAM"
	RoleCTOOnCall  = "CTO_ONCALL"
)

// Step is one tier of an escalation ladder. Deadline is measured from
// the start of the step (alert creation for step 0).
type Step struct {
	Deadline   time.Duration   `yaml:"deadline"`
	Channels   []alert.Channel `yaml:"channels"`
	Recipients []string        `yaml:"recipients"`
}

// UnmarshalYAML decodes a step, parsing the deadline from a Go duration
// string such as "15m".
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Deadline   string          `yaml:"deadline"`
		Channels   []alert.Channel `yaml:"channels"`
		Recipients []string        `yaml:"recipients"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d, err := time.ParseDuration(raw.Deadline)
	if err != nil {
		return fmt.Errorf("parse step deadline %q: %w", raw.Deadline, err)
	}

	s.Deadline = d
	s.Channels = raw.Channels
	s.Recipients = raw.Recipients
	return nil
}

// Policy maps each severity tier to its ordered escalation steps.
// TypeRecipients widens every step's recipient set for alerts of the
// given source type, so stock alerts reach the supply team and system
// outages page the on-call engineer without a dedicated ladder.
type Policy struct {
	Severities     map[alert.Severity][]Step  `yaml:"severities"`
	TypeRecipients map[signal.Source][]string `yaml:"type_recipients,omitempty"`
	Templates      map[string]string          `yaml:"templates,omitempty"`
}

// Steps returns the escalation ladder for a severity.
func (p *Policy) Steps(sev alert.Severity) []Step {
	return p.Severities[sev]
}

// Step returns the given step of a severity's ladder, or false when the
// ladder is exhausted.
func (p *Policy) Step(sev alert.Severity, idx int) (Step, bool) {
	steps := p.Severities[sev]
	if idx < 0 || idx >= len(steps) {
		return Step{}, false
	}
	return steps[idx], true
}

// Recipients returns a step's recipient list widened with the per-type
// routing extras, in policy order with duplicates dropped.
func (p *Policy) Recipients(src signal.Source, step Step) []string {
	extra := p.TypeRecipients[src]
	if len(extra) == 0 {
		return step.Recipients
	}
	out := make([]string, 0, len(step.Recipients)+len(extra))
	seen := make(map[string]bool, len(step.Recipients)+len(extra))
	for _, r := range step.Recipients {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range extra {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// Default returns the built-in policy mirroring the operations runbook:
// critical fraud pages the GM within 15 minutes and falls through to the
// COO, high-tier conditions get an hour, medium two. Stock alerts also
// reach the supply team and outages pull in the CTO on-call.
func Default() *Policy {
	return &Policy{
		Severities: map[alert.Severity][]Step{
			alert.SeverityCritical: {
				{Deadline: 15 * time.Minute, Channels: []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp}, Recipients: []string{RoleGMPrimary}},
				{Deadline: 30 * time.Minute, Channels: []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp, alert.ChannelVoice}, Recipients: []string{RoleGMPrimary, RoleCOOBackup}},
			},
			alert.SeverityHigh: {
				{Deadline: time.Hour, Channels: []alert.Channel{alert.ChannelSMS, alert.ChannelWhatsApp}, Recipients: []string{RoleGMPrimary}},
				{Deadline: 2 * time.Hour, Channels: []alert.Channel{alert.ChannelSMS, alert.ChannelVoice}, Recipients: []string{RoleGMPrimary, RoleCOOBackup}},
			},
			alert.SeverityMedium: {
				{Deadline: 2 * time.Hour, Channels: []alert.Channel{alert.ChannelWhatsApp}, Recipients: []string{RoleGMPrimary}},
				{Deadline: 4 * time.Hour, Channels: []alert.Channel{alert.ChannelSMS}, Recipients: []string{RoleGMPrimary}},
			},
		},
		TypeRecipients: map[signal.Source][]string{
			signal.SourceStockRunway: {RoleSupplyTeam},
			signal.SourceSystemDown:  {RoleCTOOnCall},
		},
		Templates: DefaultTemplates(),
	}
}

// Load reads a policy from a YAML file. An empty path returns the
// built-in default. Templates omitted from the file fall back to the
// built-in set.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if p.TypeRecipients == nil {
		p.TypeRecipients = Default().TypeRecipients
	}
	if p.Templates == nil {
		p.Templates = DefaultTemplates()
	} else {
		for key, tmpl := range DefaultTemplates() {
			if _, ok := p.Templates[key]; !ok {
				p.Templates[key] = tmpl
			}
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the policy for structural correctness: every severity
// has at least one step, deadlines are positive, channels are known and
// every step names at least one recipient.
func (p *Policy) Validate() error {
	for _, sev := range []alert.Severity{alert.SeverityCritical, alert.SeverityHigh, alert.SeverityMedium} {
		steps, ok := p.Severities[sev]
		if !ok || len(steps) == 0 {
			return fmt.Errorf("policy: severity %q has no escalation steps", sev)
		}
		for i, step := range steps {
			if step.Deadline <= 0 {
				return fmt.Errorf("policy: severity %q step %d: deadline must be positive", sev, i)
			}
			if len(step.Channels) == 0 {
				return fmt.Errorf("policy: severity %q step %d: at least one channel required", sev, i)
			}
			for _, ch := range step.Channels {
				if !ch.Valid() {
					return fmt.Errorf("policy: severity %q step %d: unknown channel %q", sev, i, ch)
				}
			}
			if len(step.Recipients) == 0 {
				return fmt.Errorf("policy: severity %q step %d: at least one recipient required", sev, i)
			}
		}
	}
	for src := range p.TypeRecipients {
		if !src.Known() {
			return fmt.Errorf("policy: type_recipients names unknown source type %q", src)
		}
	}
	return nil
}
