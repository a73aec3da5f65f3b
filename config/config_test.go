package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metergate/metergate/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metergate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
ingest:
  secret: test-secret
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Defaults fill in everything else.
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %s, want sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.KeyPrefix != "mk_" {
		t.Errorf("key prefix = %s, want mk_", cfg.Auth.KeyPrefix)
	}
	if cfg.Auth.Header != "X-API-Key" {
		t.Errorf("header = %s, want X-API-Key", cfg.Auth.Header)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics path = %s, want /metrics", cfg.Metrics.Path)
	}
	if len(cfg.Plans) != 4 {
		t.Errorf("plans = %d, want 4 defaults", len(cfg.Plans))
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/metergate
ingest:
  secret: test-secret
auth:
  key_prefix: xk_
  header: X-Custom-Key
billing:
  contact_sales_url: https://example.com/sales
plans:
  - slug: community
    label: Community
    monthly_quota: 500
  - slug: pro
    label: Pro
    monthly_quota: 10000
    allow_overage: true
    overage_unit_price_cents: 25
logging:
  level: debug
  format: console
metrics:
  enabled: true
  path: /internal/metrics
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %s", cfg.Database.Driver)
	}
	if cfg.Auth.KeyPrefix != "xk_" {
		t.Errorf("key prefix = %s", cfg.Auth.KeyPrefix)
	}
	if cfg.Billing.ContactSalesURL != "https://example.com/sales" {
		t.Errorf("contact sales = %s", cfg.Billing.ContactSalesURL)
	}
	if len(cfg.Plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(cfg.Plans))
	}
	if cfg.Plans[1].OverageUnitPriceCents != 25 {
		t.Errorf("pro overage price = %d, want 25", cfg.Plans[1].OverageUnitPriceCents)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
ingest:
  secret: from-file
`)

	t.Setenv("METERGATE_SERVER_PORT", "7070")
	t.Setenv("METERGATE_INGEST_SECRET", "from-env")
	t.Setenv("METERGATE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Ingest.Secret != "from-env" {
		t.Errorf("secret = %s, want from-env", cfg.Ingest.Secret)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_ExpandsVarReferences(t *testing.T) {
	t.Setenv("TEST_METERGATE_SECRET", "expanded-secret")

	path := writeConfig(t, `
ingest:
  secret: ${TEST_METERGATE_SECRET}
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.Secret != "expanded-secret" {
		t.Errorf("secret = %s, want expanded-secret", cfg.Ingest.Secret)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing ingest secret",
			`
server:
  port: 8080
`,
		},
		{
			"bad driver",
			`
ingest:
  secret: s
database:
  driver: oracle
`,
		},
		{
			"duplicate plan slug",
			`
ingest:
  secret: s
plans:
  - slug: community
    monthly_quota: 100
  - slug: community
    monthly_quota: 200
`,
		},
		{
			"negative quota",
			`
ingest:
  secret: s
plans:
  - slug: community
    monthly_quota: -5
`,
		},
		{
			"missing community tier",
			`
ingest:
  secret: s
plans:
  - slug: pro
    monthly_quota: 100
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := config.Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("METERGATE_INGEST_SECRET", "env-secret")
	t.Setenv("METERGATE_DATABASE_DSN", "/tmp/env.db")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Ingest.Secret != "env-secret" {
		t.Errorf("secret = %s", cfg.Ingest.Secret)
	}
	if cfg.Database.DSN != "/tmp/env.db" {
		t.Errorf("dsn = %s", cfg.Database.DSN)
	}
}

func TestPlanTable(t *testing.T) {
	path := writeConfig(t, `
ingest:
  secret: s
plans:
  - slug: community
    label: Community
    monthly_quota: 1000
  - slug: pro
    label: Pro
    monthly_quota: 20000
    allow_overage: true
    overage_unit_price_cents: 15
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	plans := cfg.PlanTable()
	if len(plans) != 2 {
		t.Fatalf("len = %d, want 2", len(plans))
	}
	if plans[1].Slug != "pro" || !plans[1].AllowOverage || plans[1].OverageUnitPriceCents != 15 {
		t.Errorf("pro plan = %+v", plans[1])
	}
}

func TestOverageProCentsOverride(t *testing.T) {
	proOverage := func(t *testing.T, cfg *config.Config) int64 {
		t.Helper()
		for _, p := range cfg.Plans {
			if p.Slug == "pro" {
				return p.OverageUnitPriceCents
			}
		}
		t.Fatal("no pro plan in table")
		return 0
	}

	t.Run("explicit plan table", func(t *testing.T) {
		t.Setenv("METERGATE_OVERAGE_PRO_CENTS", "42")

		path := writeConfig(t, `
ingest:
  secret: s
plans:
  - slug: community
    monthly_quota: 1000
  - slug: pro
    monthly_quota: 20000
    allow_overage: true
    overage_unit_price_cents: 15
`)

		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := proOverage(t, cfg); got != 42 {
			t.Errorf("pro overage = %d, want 42", got)
		}
	})

	// The override must also reach the default plan table, filled in when
	// the file carries no plans section.
	t.Run("default plan table", func(t *testing.T) {
		t.Setenv("METERGATE_OVERAGE_PRO_CENTS", "42")

		path := writeConfig(t, `
ingest:
  secret: s
`)

		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := proOverage(t, cfg); got != 42 {
			t.Errorf("pro overage = %d, want 42", got)
		}
	})

	t.Run("env-only config", func(t *testing.T) {
		t.Setenv("METERGATE_INGEST_SECRET", "s")
		t.Setenv("METERGATE_OVERAGE_PRO_CENTS", "42")

		cfg, err := config.LoadFromEnv()
		if err != nil {
			t.Fatalf("load from env: %v", err)
		}
		if got := proOverage(t, cfg); got != 42 {
			t.Errorf("pro overage = %d, want 42", got)
		}
	})
}
