package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		JWTSecret:             testSecret,
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
	if c.DatabaseURL != "" || c.CatalogFile != "" {
		t.Errorf("DatabaseURL = %q, CatalogFile = %q, want empty", c.DatabaseURL, c.CatalogFile)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/grievance",
		"-db-max-conns", "25",
		"-db-max-conn-idle-seconds", "120",
		"-catalog-file", "/etc/grievance/catalog.yaml",
		"-jwt-secret", testSecret,
		"-jwt-issuer", "https://id.example.com",
		"-claude-api-key", "sk-override",
		"-slack-webhook-url", "https://hooks.slack.com/x",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/grievance" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.DBMaxConns != 25 || c.DBMaxConnIdleSeconds != 120 {
		t.Errorf("DBMaxConns = %d, DBMaxConnIdleSeconds = %d", c.DBMaxConns, c.DBMaxConnIdleSeconds)
	}
	if c.CatalogFile != "/etc/grievance/catalog.yaml" {
		t.Errorf("CatalogFile = %q", c.CatalogFile)
	}
	if c.JWTSecret != testSecret || c.JWTIssuer != "https://id.example.com" {
		t.Errorf("JWT = %q/%q", c.JWTSecret, c.JWTIssuer)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.SlackWebhookURL != "https://hooks.slack.com/x" {
		t.Errorf("SlackWebhookURL = %q", c.SlackWebhookURL)
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
			name:    "minimum valid values",
			cfg:     Config{DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1, JWTSecret: testSecret},
			wantErr: false,
		},
		{
			name:    "maximum valid values",
			cfg:     Config{DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535, JWTSecret: testSecret},
			wantErr: false,
		},
		{
			name:      "drain zero",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: testSecret},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       Config{DrainSeconds: 301, ShutdownBudgetSeconds: 302, APIPort: 8080, JWTSecret: testSecret},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 301, APIPort: 8080, JWTSecret: testSecret},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 60, APIPort: 8080, JWTSecret: testSecret},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 65536, JWTSecret: testSecret},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "negative pool size",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: testSecret, DBMaxConns: -1},
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "pool size above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: testSecret, DBMaxConns: 1001},
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "idle above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: testSecret, DBMaxConnIdleSeconds: 86401},
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONN_IDLE_SECONDS"},
		},
		{
			name:    "pool knobs set",
			cfg:     Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: testSecret, DBMaxConns: 50, DBMaxConnIdleSeconds: 600},
			wantErr: false,
		},
		{
			name:      "missing jwt secret",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"JWT_SECRET"},
		},
		{
			name:      "short jwt secret",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, JWTSecret: "short"},
			wantErr:   true,
			errSubstr: []string{"JWT_SECRET"},
		},
		{
			name: "claude key without model",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				JWTSecret: testSecret, ClaudeAPIKey: "k",
			},
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name: "claude key with model",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				JWTSecret: testSecret, ClaudeAPIKey: "k", ClaudeModel: "m",
			},
			wantErr: false,
		},
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "JWT_SECRET"},
		},
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
	seeds := []struct {
		drain, budget, port int
		secret, key, model  string
	}{
		{60, 90, 8080, testSecret, "", "claude-sonnet"},
		{1, 2, 1, testSecret, "k", "m"},
		{299, 300, 65535, testSecret, "k", ""},
		{0, 0, 0, "", "", ""},
		{300, 300, 65535, "short", "", ""},
		{150, 100, 8080, testSecret, "", ""},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.secret, s.key, s.model)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, secret, key, model string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			JWTSecret:             secret,
			ClaudeAPIKey:          key,
			ClaudeModel:           model,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		secretOK := len(secret) >= 32
		claudeOK := key == "" || model != ""

		allValid := drainOK && budgetOK && portOK && crossOK && secretOK && claudeOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
