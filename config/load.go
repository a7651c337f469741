package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const TextCodeInvalidConfig = "INVALID_CONFIG"

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns a configuration that runs the embedded provider with
// an in memory store.
func Default() *BaseConfig {
	return &BaseConfig{
		Server: Server{Addr: ":8080"},
		Auth: Auth{
			SiteURL:           "http://localhost:8080",
			RequestTimeoutRaw: "15s",
			SettleWaitRaw:     "2s",
		},
		Provider: Provider{
			Kind:               ProviderLocal,
			RefreshScheduleRaw: "@every 1m",
			RefreshBeforeRaw:   "5m",
			GoTrue: GoTrue{
				TimeoutRaw: "10s",
				RateLimit:  10,
				RateBurst:  5,
			},
			Local: Local{
				Issuer:        "offers-site",
				Audience:      "offers-site",
				AccessTTLRaw:  "1h",
				RefreshTTLRaw: "168h",
				JanitorRaw:    "@every 1m",
			},
		},
		Sessions: Sessions{
			CookieName:    "auth_session",
			MaxClients:    10000,
			IdleRaw:       "24h",
			SweepSchedule: "@every 5m",
		},
		Store: Store{
			Kind:  StoreMemory,
			Path:  "sessions",
			Redis: Redis{Addr: "localhost:6379", Key: "auth:session", TTLRaw: "168h"},
		},
		Database: Database{DSN: "file:offers.db?cache=shared", Driver: "sqlite", PingTimeoutRaw: "5s"},
		Logging:  Logging{Level: "info"},
		Metrics:  Metrics{Enabled: true, Addr: ":9090", Path: "/metrics"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml for TOML, anything else is YAML. ${VAR} references are replaced
// with the environment value, empty when unset.
func Load(path string) (*BaseConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}

	if err := Parse(cfg, filepath.Ext(path), []byte(expandEnv(string(data)))); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}

	return cfg, cfg.finish()
}

// Parse decodes data into cfg according to ext.
func Parse(cfg *BaseConfig, ext string, data []byte) error {
	switch strings.ToLower(ext) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *BaseConfig) finish() error {
	if err := c.parseDurations(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

func (c *BaseConfig) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.request_timeout", c.Auth.RequestTimeoutRaw, &c.Auth.RequestTimeout},
		{"auth.settle_wait", c.Auth.SettleWaitRaw, &c.Auth.SettleWait},
		{"provider.refresh_before", c.Provider.RefreshBeforeRaw, &c.Provider.RefreshBefore},
		{"provider.gotrue.timeout", c.Provider.GoTrue.TimeoutRaw, &c.Provider.GoTrue.Timeout},
		{"provider.local.access_ttl", c.Provider.Local.AccessTTLRaw, &c.Provider.Local.AccessTTL},
		{"provider.local.refresh_ttl", c.Provider.Local.RefreshTTLRaw, &c.Provider.Local.RefreshTTL},
		{"store.redis.ttl", c.Store.Redis.TTLRaw, &c.Store.Redis.TTL},
		{"sessions.idle", c.Sessions.IdleRaw, &c.Sessions.Idle},
		{"database.ping_timeout", c.Database.PingTimeoutRaw, &c.Database.PingTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid duration").
				WithTextCode(TextCodeInvalidConfig).
				WithMetadata(map[string]any{"field": f.name, "value": f.raw})
		}
		*f.dst = d
	}
	return nil
}
