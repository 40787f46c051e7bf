package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/auditchain/internal/config"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auditd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, config.SinkMemory, cfg.Sink.Kind)
	assert.Equal(t, 48*time.Hour, cfg.Ledger.EditWindow)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, digest.SHA256, cfg.Algorithm())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
}

func TestLoad_file(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: sqlite
  sqlite_path: /tmp/chains.db
ledger:
  hash_algorithm: blake2b-256
  edit_window: 2h
sink:
  kind: kafka
  kafka_brokers: k1:9092,k2:9092
  kafka_topic: audit
attest:
  secret: 0123456789abcdef0123
sweep:
  interval: 0s
alert:
  webhook_urls:
    - https://hooks.example.test/audit
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/chains.db", cfg.Store.SQLitePath)
	assert.Equal(t, digest.BLAKE2b256, cfg.Algorithm())
	assert.Equal(t, 2*time.Hour, cfg.Ledger.EditWindow)
	assert.Equal(t, "k1:9092,k2:9092", cfg.Sink.KafkaBrokers)
	assert.Zero(t, cfg.Sweep.Interval)
	assert.Equal(t, []string{"https://hooks.example.test/audit"}, cfg.Alert.WebhookURLs)
}

func TestLoad_envOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: memory\n")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://x@db/audit")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://x@db/audit", cfg.Database.URL)
}

func TestLoad_missingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			Store:  config.Store{Driver: config.DriverMemory},
			Sink:   config.Sink{Kind: config.SinkMemory},
			Ledger: config.Ledger{HashAlgorithm: "sha256", AppendAttempts: 1},
		}
	}
	require.NoError(t, func() error { c := base(); return c.Validate() }())

	cases := map[string]func(c *config.Config){
		"unknown driver":    func(c *config.Config) { c.Store.Driver = "mongo" },
		"sqlite no path":    func(c *config.Config) { c.Store.Driver = config.DriverSQLite },
		"unknown sink":      func(c *config.Config) { c.Sink.Kind = "syslog" },
		"jsonl no path":     func(c *config.Config) { c.Sink.Kind = config.SinkJSONL },
		"kafka no topic":    func(c *config.Config) { c.Sink.Kind = config.SinkKafka; c.Sink.KafkaBrokers = "k:9092" },
		"postgres no url":   func(c *config.Config) { c.Store.Driver = config.DriverPostgres },
		"bad algorithm":     func(c *config.Config) { c.Ledger.HashAlgorithm = "md5" },
		"negative window":   func(c *config.Config) { c.Ledger.EditWindow = -time.Second },
		"zero attempts":     func(c *config.Config) { c.Ledger.AppendAttempts = 0 },
		"short secret":      func(c *config.Config) { c.Attest.Secret = "short" },
		"negative interval": func(c *config.Config) { c.Sweep.Interval = -time.Minute },
		"bad webhook url":   func(c *config.Config) { c.Alert.WebhookURLs = []string{"ftp://x"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
