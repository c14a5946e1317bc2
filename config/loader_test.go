// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: [k1, k2]

store:
  backend: gorm
  notification_queue: redis

database:
  driver: sqlite
  name: /tmp/docflow.db

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

workflow:
  timeout_scan_interval: 30s
  route_timeout_fallback: true
  routes_file: routes.yaml
  roles:
    alice: [hod]
    bob: [registrar, dean]

log:
  level: "debug"
  format: "console"
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "gorm", cfg.Store.Backend)
	assert.Equal(t, "redis", cfg.Store.NotificationQueue)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Workflow.TimeoutScanInterval)
	assert.True(t, cfg.Workflow.RouteTimeoutFallback)
	assert.Equal(t, map[string][]string{"alice": {"hod"}, "bob": {"registrar", "dean"}}, cfg.Workflow.Roles)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "/workflows", cfg.Workflow.ActionURLBase)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("DOCFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("DOCFLOW_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DOCFLOW_STORE_BACKEND", "redis")
	t.Setenv("DOCFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("DOCFLOW_WORKFLOW_TIMEOUT_SCAN_INTERVAL", "5m")
	t.Setenv("DOCFLOW_WORKFLOW_ROUTE_TIMEOUT_FALLBACK", "true")
	t.Setenv("DOCFLOW_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("DOCFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.TimeoutScanInterval)
	assert.True(t, cfg.Workflow.RouteTimeoutFallback)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8888\nlog:\n  format: console\n")
	t.Setenv("DOCFLOW_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_Errors(t *testing.T) {
	t.Run("missing file keeps defaults", func(t *testing.T) {
		cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := NewLoader().WithConfigPath(writeConfig(t, "server: [")).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("DOCFLOW_SERVER_HTTP_PORT", "not-a-number")
		_, err := NewLoader().Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DOCFLOW_SERVER_HTTP_PORT")
	})

	t.Run("validator", func(t *testing.T) {
		_, err := NewLoader().WithValidator((*Config).Validate).WithValidator(func(c *Config) error {
			return assert.AnError
		}).Load()
		require.ErrorIs(t, err, assert.AnError)
	})
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"http port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"port clash", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, "metrics port must differ"},
		{"backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend must be one of"},
		{"queue", func(c *Config) { c.Store.NotificationQueue = "kafka" }, "store.notification_queue"},
		{"driver", func(c *Config) { c.Store.Backend = "gorm"; c.Database.Driver = "oracle" }, "database.driver"},
		{"redis addr", func(c *Config) { c.Store.NotificationQueue = "redis"; c.Redis.Addr = "" }, "redis.addr"},
		{"route cache ttl", func(c *Config) { c.Store.RouteCacheTTL = -time.Second }, "route_cache_ttl"},
		{"route cache redis", func(c *Config) { c.Store.RouteCacheTTL = time.Minute; c.Redis.Addr = "" }, "redis.addr"},
		{"tls pair", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "tls_cert_file"},
		{"mongo", func(c *Config) { c.Store.Backend = "mongo"; c.Mongo.URI = "" }, "mongo.uri"},
		{"scan interval", func(c *Config) { c.Workflow.TimeoutScanInterval = 0 }, "timeout_scan_interval"},
		{"watch routes", func(c *Config) { c.Workflow.WatchRoutes = true }, "watch_routes requires"},
		{"jwt secret", func(c *Config) { c.JWT.Enabled = true }, "jwt.secret"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "docflow", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=docflow sslmode=disable", d.DSN())

	d.Driver, d.Port = "mysql", 3306
	assert.Equal(t, "u:p@tcp(db:3306)/docflow?parseTime=true&multiStatements=true", d.DSN())

	d.Driver, d.Name = "sqlite", "docflow.db"
	assert.Equal(t, "docflow.db", d.DSN())

	d.Driver = "oracle"
	assert.Empty(t, d.DSN())
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(writeConfig(t, "server: [")) })
}
