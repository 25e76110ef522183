package policy

import (
	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

// TemplateKey builds the lookup key for a (source type, channel) pair.
func TemplateKey(src signal.Source, ch alert.Channel) string {
	return string(src) + "/" + string(ch)
}

// Template returns the message template for a source type and channel.
// Unknown pairs fall back to the generic template for the channel.
func (p *Policy) Template(src signal.Source, ch alert.Channel) string {
	if t, ok := p.Templates[TemplateKey(src, ch)]; ok {
		return t
	}
	return p.Templates["default/"+string(ch)]
}

// DefaultTemplates returns the built-in message templates. Placeholders
// in braces are substituted from alert fields at dispatch time.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"PAYMENT_FRAUD/sms":        "FRAUD ALERT: {subject} - {message}. Risk: ₦{amount}. Action needed immediately.",
		"PAYMENT_FRAUD/whatsapp":   "*CRITICAL FRAUD DETECTED*\n\nStaff: {subject}\nDetail: {message}\nRisk: ₦{amount}\nAction: {autoAction}",
		"PAYMENT_FRAUD/voice_call": "Voice call requested for fraud alert on {subject}. Risk ₦{amount}.",

		"STOCK_RUNWAY/sms":      "STOCK ALERT: {subject} - {message}. Revenue risk: ₦{amount}.",
		"STOCK_RUNWAY/whatsapp": "*STOCK EMERGENCY*\n\n{message}\nRevenue at risk: ₦{amount}\n\nTake action now.",

		"DA_INACTIVITY/sms":      "DA ALERT: {message}. Stock: ₦{amount}. Call immediately.",
		"DA_INACTIVITY/whatsapp": "*DA PERFORMANCE ISSUE*\n\n{message}\nStock value: ₦{amount}\n\nCall now or auto-redistribute?",

		"default/sms":        "ALERT [{severity}] {subject}: {message}",
		"default/whatsapp":   "*ALERT* [{severity}]\n\n{subject}: {message}",
		"default/voice_call": "Voice call requested: [{severity}] {subject}: {message}",
	}
}
