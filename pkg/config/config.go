package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ngoyal88/relay/pkg/exchanges"
)

// Execution models for serving proxied traffic.
const (
	ModelBlocking = "blocking"
	ModelAsync    = "async"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
	LoadBalancer LoadBalancerConfig `mapstructure:"loadbalancer"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Exchanges    ExchangesConfig    `mapstructure:"exchanges"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// ExecutionModel is "blocking" (one goroutine per exchange, handlers
	// return when done) or "async" (handlers signal completion).
	ExecutionModel string `mapstructure:"execution_model"`
}

type ProxyConfig struct {
	Target string `mapstructure:"target"`
}

type LoadBalancerConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Strategy string         `mapstructure:"strategy"`
	Targets  []TargetConfig `mapstructure:"targets"`
}

type TargetConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type AuthConfig struct {
	AdminKey string   `mapstructure:"admin_key"`
	APIKeys  []APIKey `mapstructure:"api_keys"`
}

// APIKey binds a bearer key to the user id recorded as the exchange principal.
// Keys are a list rather than a map because viper lower-cases map keys.
type APIKey struct {
	Key    string `mapstructure:"key"`
	UserID string `mapstructure:"user"`
}

// KeyMap returns the configured API keys indexed by key.
func (a AuthConfig) KeyMap() map[string]string {
	if len(a.APIKeys) == 0 {
		return nil
	}
	m := make(map[string]string, len(a.APIKeys))
	for _, k := range a.APIKeys {
		if k.Key != "" {
			m[k.Key] = k.UserID
		}
	}
	return m
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExchangesConfig controls HTTP exchange recording. Capacity and Include are
// read once at startup; changing them requires a restart.
type ExchangesConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Capacity      int      `mapstructure:"capacity"`
	Include       []string `mapstructure:"include"`
	SessionCookie string   `mapstructure:"session_cookie"`
}

// Policy parses the configured include list. An empty list yields exchanges.DefaultIncludes.
func (c ExchangesConfig) Policy() (exchanges.Policy, error) {
	return exchanges.ParsePolicy(c.Include)
}

// Validate reports configuration that would leave the relay half-functional.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Server.ExecutionModel {
	case ModelBlocking, ModelAsync:
	default:
		errs = append(errs, fmt.Errorf("server.execution_model must be %q or %q, got %q",
			ModelBlocking, ModelAsync, c.Server.ExecutionModel))
	}
	if c.LoadBalancer.Enabled {
		if len(c.LoadBalancer.Targets) == 0 {
			errs = append(errs, errors.New("loadbalancer.targets is empty"))
		}
	} else if c.Proxy.Target == "" {
		errs = append(errs, errors.New("proxy.target is required"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit.requests_per_second and ratelimit.burst must be positive"))
	}
	if c.Exchanges.Enabled {
		if c.Exchanges.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("exchanges.capacity must be positive, got %d", c.Exchanges.Capacity))
		}
		if _, err := c.Exchanges.Policy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

// NewStore returns a store holding cfg. Mostly useful in tests.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

// OnChange registers fn to be called with each successfully reloaded config.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Update replaces the held config and notifies the OnChange listeners.
func (s *Store) Update(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// LoadAndWatch loads ./configs/config.yaml and watches it for on-disk changes.
func LoadAndWatch() (*Store, error) {
	return LoadAndWatchPath("./configs")
}

// LoadAndWatchPath loads config.yaml from dir and watches it for on-disk changes.
func LoadAndWatchPath(dir string) (*Store, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := refresh(v, store); err != nil {
			slog.Error("config reload failed", "file", e.Name, "error", err)
		} else {
			slog.Info("config reloaded", "file", e.Name)
		}
	})

	return store, nil
}

// LoadPath loads config.yaml from dir once.
func LoadPath(dir string) (*Config, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(dir string) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("server::port", ":8080")
	v.SetDefault("server::execution_model", ModelBlocking)
	v.SetDefault("loadbalancer::strategy", "round-robin")
	v.SetDefault("logging::level", "info")
	v.SetDefault("logging::format", "text")
	v.SetDefault("exchanges::enabled", true)
	v.SetDefault("exchanges::capacity", exchanges.DefaultCapacity)
	v.SetDefault("exchanges::session_cookie", "SESSION")

	// ADMIN_KEY in the environment wins over the file.
	_ = v.BindEnv("auth::admin_key", "ADMIN_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Server.ExecutionModel = strings.ToLower(strings.TrimSpace(cfg.Server.ExecutionModel))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func refresh(v *viper.Viper, store *Store) error {
	cfg, err := decode(v)
	if err != nil {
		return err
	}
	store.Update(cfg)
	return nil
}
