package cfg

import (
	"flag"
	"math"
	"reflect"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		GatewayURL:            "https://sms.example.test",
		GatewayAPIKey:         "gw-test-key",
		GatewaySenderID:       "klaxon",
		SMSRatePerSec:         10,
		WhatsAppRatePerSec:    10,
		VoiceRatePerSec:       1,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.KafkaTopic != "ops.signals" {
		t.Errorf("KafkaTopic = %q, want %q", c.KafkaTopic, "ops.signals")
	}
	if c.GatewaySenderID != "klaxon" {
		t.Errorf("GatewaySenderID = %q, want %q", c.GatewaySenderID, "klaxon")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-gateway-url", "https://gw.example.test",
		"-gateway-api-key", "gw-override",
		"-kafka-brokers", "kafka-1:9092, kafka-2:9092",
		"-sms-rate-per-sec", "2.5",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.GatewayURL != "https://gw.example.test" {
		t.Errorf("GatewayURL = %q, want %q", c.GatewayURL, "https://gw.example.test")
	}
	if c.GatewayAPIKey != "gw-override" {
		t.Errorf("GatewayAPIKey = %q, want %q", c.GatewayAPIKey, "gw-override")
	}
	if c.SMSRatePerSec != 2.5 {
		t.Errorf("SMSRatePerSec = %v, want 2.5", c.SMSRatePerSec)
	}
	if got, want := c.Brokers(), []string{"kafka-1:9092", "kafka-2:9092"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Brokers() = %v, want %v", got, want)
	}
}

func TestBrokers_Empty(t *testing.T) {
	t.Parallel()

	c := Config{KafkaBrokers: "  "}
	if got := c.Brokers(); got != nil {
		t.Errorf("Brokers() = %v, want nil", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				GatewayURL: "http://g", GatewayAPIKey: "k",
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				GatewayURL: "http://g", GatewayAPIKey: "k",
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 90, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       Config{DrainSeconds: 301, ShutdownBudgetSeconds: 302, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 60, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 65536},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Gateway requirements
		{
			name: "empty gateway url",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "", GatewayAPIKey: "k",
			},
			wantErr:   true,
			errSubstr: []string{"GATEWAY_URL"},
		},
		{
			name: "empty gateway api key",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "http://g", GatewayAPIKey: "",
			},
			wantErr:   true,
			errSubstr: []string{"GATEWAY_API_KEY"},
		},
		// Kafka requirements only bind when brokers are set
		{
			name: "brokers without topic",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "http://g", GatewayAPIKey: "k",
				KafkaBrokers: "kafka-1:9092", KafkaTopic: "", KafkaGroupID: "klaxon",
			},
			wantErr:   true,
			errSubstr: []string{"KAFKA_TOPIC"},
		},
		{
			name: "brokers without group id",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "http://g", GatewayAPIKey: "k",
				KafkaBrokers: "kafka-1:9092", KafkaTopic: "ops.signals", KafkaGroupID: "",
			},
			wantErr:   true,
			errSubstr: []string{"KAFKA_GROUP_ID"},
		},
		{
			name: "no brokers means no kafka requirements",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "http://g", GatewayAPIKey: "k",
				KafkaBrokers: "", KafkaTopic: "", KafkaGroupID: "",
			},
			wantErr: false,
		},
		// Rate limits
		{
			name: "negative rate limit",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				GatewayURL: "http://g", GatewayAPIKey: "k",
				SMSRatePerSec: -1,
			},
			wantErr:   true,
			errSubstr: []string{"rate limits"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 0, APIPort: 0},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "GATEWAY_URL", "GATEWAY_API_KEY"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port int
		gatewayURL, key     string
	}{
		{60, 90, 8080, "http://g", "k"},
		{1, 2, 1, "http://g", "k"},
		{299, 300, 65535, "http://g", "k"},
		{0, 0, 0, "", ""},
		{-1, -1, -1, "", ""},
		{300, 300, 65535, "http://g", "k"},
		{301, 302, 65536, "", ""},
		{150, 100, 8080, "http://g", "k"},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.gatewayURL, s.key)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, gatewayURL, key string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			GatewayURL:            gatewayURL,
			GatewayAPIKey:         key,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		gwOK := gatewayURL != ""
		keyOK := key != ""

		allValid := drainOK && budgetOK && portOK && crossOK && gwOK && keyOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
