package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/relay/pkg/exchanges"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	return dir
}

func TestLoadPathAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, `
proxy:
  target: "http://localhost:9000"
`)
	cfg, err := LoadPath(dir)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, ModelBlocking, cfg.Server.ExecutionModel)
	assert.True(t, cfg.Exchanges.Enabled)
	assert.Equal(t, exchanges.DefaultCapacity, cfg.Exchanges.Capacity)
	assert.Equal(t, "SESSION", cfg.Exchanges.SessionCookie)

	policy, err := cfg.Exchanges.Policy()
	require.NoError(t, err)
	assert.Equal(t, exchanges.DefaultIncludes().String(), policy.String())
}

func TestLoadPathReadsExchangesAndKeys(t *testing.T) {
	t.Setenv("ADMIN_KEY", "")
	dir := writeConfig(t, `
server:
  port: ":9090"
  execution_model: "ASYNC"
proxy:
  target: "http://localhost:9000"
auth:
  admin_key: "admin_file"
  api_keys:
    - key: "relay_MixedCase"
      user: "alice"
exchanges:
  capacity: 5
  include: [request-headers, time_taken]
  session_cookie: JSESSIONID
`)
	cfg, err := LoadPath(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, ModelAsync, cfg.Server.ExecutionModel)
	assert.Equal(t, "admin_file", cfg.Auth.AdminKey)
	assert.Equal(t, map[string]string{"relay_MixedCase": "alice"}, cfg.Auth.KeyMap())
	assert.Equal(t, 5, cfg.Exchanges.Capacity)
	assert.Equal(t, "JSESSIONID", cfg.Exchanges.SessionCookie)

	policy, err := cfg.Exchanges.Policy()
	require.NoError(t, err)
	assert.True(t, policy.Includes(exchanges.IncludeRequestHeaders))
	assert.True(t, policy.Includes(exchanges.IncludeTimeTaken))
	assert.False(t, policy.Includes(exchanges.IncludePrincipal))
}

func TestAdminKeyFromEnvironment(t *testing.T) {
	t.Setenv("ADMIN_KEY", "admin_env")
	dir := writeConfig(t, `
proxy:
  target: "http://localhost:9000"
auth:
  admin_key: "admin_file"
`)
	cfg, err := LoadPath(dir)
	require.NoError(t, err)
	assert.Equal(t, "admin_env", cfg.Auth.AdminKey)
}

func TestLoadPathRejectsInvalidConfig(t *testing.T) {
	dir := writeConfig(t, `
server:
  execution_model: "reactive"
exchanges:
  capacity: 0
  include: [EVERYTHING]
`)
	_, err := LoadPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_model")
	assert.Contains(t, err.Error(), "proxy.target")
	assert.Contains(t, err.Error(), "exchanges.capacity")
}

func TestLoadPathMissingFile(t *testing.T) {
	_, err := LoadPath(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: ":8080", ExecutionModel: ModelBlocking},
			Proxy:     ProxyConfig{Target: "http://localhost:9000"},
			Exchanges: ExchangesConfig{Enabled: true, Capacity: 100},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"no port":           func(c *Config) { c.Server.Port = "" },
		"unknown model":     func(c *Config) { c.Server.ExecutionModel = "threads" },
		"no target":         func(c *Config) { c.Proxy.Target = "" },
		"no lb targets":     func(c *Config) { c.LoadBalancer.Enabled = true },
		"zero rate":         func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, Burst: 1} },
		"negative capacity": func(c *Config) { c.Exchanges.Capacity = -1 },
		"unknown include":   func(c *Config) { c.Exchanges.Include = []string{"BODY"} },
	}
	for name, mutate := range tests {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	disabled := valid()
	disabled.Exchanges = ExchangesConfig{Enabled: false, Capacity: 0}
	assert.NoError(t, disabled.Validate())
}

func TestKeyMapSkipsEmptyKeys(t *testing.T) {
	assert.Nil(t, AuthConfig{}.KeyMap())

	auth := AuthConfig{APIKeys: []APIKey{{Key: "k1", UserID: "alice"}, {Key: "", UserID: "ghost"}}}
	assert.Equal(t, map[string]string{"k1": "alice"}, auth.KeyMap())
}

func TestStoreNotifiesListeners(t *testing.T) {
	store := NewStore(&Config{Logging: LoggingConfig{Level: "info"}})

	var seen []string
	store.OnChange(func(c *Config) { seen = append(seen, c.Logging.Level) })
	store.Update(&Config{Logging: LoggingConfig{Level: "debug"}})

	assert.Equal(t, []string{"debug"}, seen)
	assert.Equal(t, "debug", store.Get().Logging.Level)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStore(&Config{Server: ServerConfig{Port: ":8080"}})

	store.Get().Server.Port = ":1"
	assert.Equal(t, ":8080", store.Get().Server.Port)
	assert.Nil(t, NewStore(nil).Get())
}
