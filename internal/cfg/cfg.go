package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	PolicyPath            string
	GatewayURL            string
	GatewayAPIKey         string
	GatewaySenderID       string
	KafkaBrokers          string
	KafkaTopic            string
	KafkaGroupID          string
	SMSRatePerSec         float64
	WhatsAppRatePerSec    float64
	VoiceRatePerSec       float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.PolicyPath, "policy-path", "", "path to the escalation policy YAML (empty = built-in defaults)")
	fs.StringVar(&c.GatewayURL, "gateway-url", "", "notification gateway base URL")
	fs.StringVar(&c.GatewayAPIKey, "gateway-api-key", "", "notification gateway API key")
	fs.StringVar(&c.GatewaySenderID, "gateway-sender-id", "klaxon", "sender ID shown to notification recipients")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for signal ingestion (empty = HTTP ingress only)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "ops.signals", "Kafka topic carrying operational signals")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "klaxon", "Kafka consumer group ID")
	fs.Float64Var(&c.SMSRatePerSec, "sms-rate-per-sec", 10, "max SMS sends per second (0 = unlimited)")
	fs.Float64Var(&c.WhatsAppRatePerSec, "whatsapp-rate-per-sec", 10, "max WhatsApp sends per second (0 = unlimited)")
	fs.Float64Var(&c.VoiceRatePerSec, "voice-rate-per-sec", 1, "max voice calls per second (0 = unlimited)")
}

// Brokers returns the Kafka broker list, empty when Kafka ingestion is
// disabled.
func (c *Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Notifications cannot leave the process without a gateway
	if c.GatewayURL == "" {
		errs = append(errs, errors.New("GATEWAY_URL is required"))
	}
	if c.GatewayAPIKey == "" {
		errs = append(errs, errors.New("GATEWAY_API_KEY is required"))
	}

	if len(c.Brokers()) > 0 {
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required when KAFKA_BROKERS is set"))
		}
	}

	if c.SMSRatePerSec < 0 || c.WhatsAppRatePerSec < 0 || c.VoiceRatePerSec < 0 {
		errs = append(errs, errors.New("per-channel rate limits must be >= 0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
