// Package config loads the offers site configuration from YAML or TOML.
package config

import (
	"time"

	auth "github.com/goliatone/go-auth-session"
)

// Provider kinds.
const (
	ProviderLocal  = "local"
	ProviderGoTrue = "gotrue"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// BaseConfig is the complete site configuration.
type BaseConfig struct {
	Server   Server   `yaml:"server" toml:"server" json:"server"`
	Auth     Auth     `yaml:"auth" toml:"auth" json:"auth"`
	Provider Provider `yaml:"provider" toml:"provider" json:"provider"`
	Sessions Sessions `yaml:"sessions" toml:"sessions" json:"sessions"`
	Store    Store    `yaml:"store" toml:"store" json:"store"`
	Database Database `yaml:"database" toml:"database" json:"database"`
	Logging  Logging  `yaml:"logging" toml:"logging" json:"logging"`
	Metrics  Metrics  `yaml:"metrics" toml:"metrics" json:"metrics"`
}

type Server struct {
	Addr  string `yaml:"addr" toml:"addr" json:"addr"`
	Debug bool   `yaml:"debug" toml:"debug" json:"debug"`
	// CSRFKey signs form tokens. A random key is used when empty.
	CSRFKey      string `yaml:"csrf_key" toml:"csrf_key" json:"-"`
	SecureCookie bool   `yaml:"secure_cookie" toml:"secure_cookie" json:"secure_cookie"`
}

// Sessions bounds the per browser session clients.
type Sessions struct {
	// Key signs the session cookie. A random key is used when empty.
	Key           string `yaml:"key" toml:"key" json:"-"`
	CookieName    string `yaml:"cookie_name" toml:"cookie_name" json:"cookie_name"`
	MaxClients    int    `yaml:"max_clients" toml:"max_clients" json:"max_clients"`
	IdleRaw       string `yaml:"idle" toml:"idle" json:"idle"`
	SweepSchedule string `yaml:"sweep_schedule" toml:"sweep_schedule" json:"sweep_schedule"`

	Idle time.Duration `yaml:"-" toml:"-" json:"-"`
}

// Auth holds the session manager options. Durations are written as Go
// duration strings.
type Auth struct {
	AdminEmail         string `yaml:"admin_email" toml:"admin_email" json:"admin_email"`
	SiteURL            string `yaml:"site_url" toml:"site_url" json:"site_url"`
	LoginPath          string `yaml:"login_path" toml:"login_path" json:"login_path"`
	ForgotPasswordPath string `yaml:"forgot_password_path" toml:"forgot_password_path" json:"forgot_password_path"`
	ResetPasswordPath  string `yaml:"reset_password_path" toml:"reset_password_path" json:"reset_password_path"`
	SignUpSuccessPath  string `yaml:"signup_success_path" toml:"signup_success_path" json:"signup_success_path"`
	RedirectParam      string `yaml:"redirect_param" toml:"redirect_param" json:"redirect_param"`
	RequestTimeoutRaw  string `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	SettleWaitRaw      string `yaml:"settle_wait" toml:"settle_wait" json:"settle_wait"`

	RequestTimeout time.Duration `yaml:"-" toml:"-" json:"-"`
	SettleWait     time.Duration `yaml:"-" toml:"-" json:"-"`
}

// Settings returns the session manager configuration.
func (a Auth) Settings() auth.Settings {
	return auth.Settings{
		AdminEmail:         a.AdminEmail,
		SiteURL:            a.SiteURL,
		LoginPath:          a.LoginPath,
		ForgotPasswordPath: a.ForgotPasswordPath,
		ResetPasswordPath:  a.ResetPasswordPath,
		SignUpSuccessPath:  a.SignUpSuccessPath,
		RedirectParam:      a.RedirectParam,
		RequestTimeout:     a.RequestTimeout,
	}
}

type Provider struct {
	Kind               string `yaml:"kind" toml:"kind" json:"kind"`
	RefreshScheduleRaw string `yaml:"refresh_schedule" toml:"refresh_schedule" json:"refresh_schedule"`
	RefreshBeforeRaw   string `yaml:"refresh_before" toml:"refresh_before" json:"refresh_before"`
	GoTrue             GoTrue `yaml:"gotrue" toml:"gotrue" json:"gotrue"`
	Local              Local  `yaml:"local" toml:"local" json:"local"`

	RefreshBefore time.Duration `yaml:"-" toml:"-" json:"-"`
}

type GoTrue struct {
	URL         string            `yaml:"url" toml:"url" json:"url"`
	APIKey      string            `yaml:"api_key" toml:"api_key" json:"-"`
	JWTSecret   string            `yaml:"jwt_secret" toml:"jwt_secret" json:"-"`
	SigningKeys map[string]string `yaml:"signing_keys" toml:"signing_keys" json:"-"`
	JWKSURL     string            `yaml:"jwks_url" toml:"jwks_url" json:"jwks_url"`
	Issuer      string            `yaml:"issuer" toml:"issuer" json:"issuer"`
	Audience    string            `yaml:"audience" toml:"audience" json:"audience"`
	TimeoutRaw  string            `yaml:"timeout" toml:"timeout" json:"timeout"`
	RateLimit   float64           `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`
	RateBurst   int               `yaml:"rate_burst" toml:"rate_burst" json:"rate_burst"`

	Timeout time.Duration `yaml:"-" toml:"-" json:"-"`
}

type Local struct {
	SigningKey    string `yaml:"signing_key" toml:"signing_key" json:"-"`
	Issuer        string `yaml:"issuer" toml:"issuer" json:"issuer"`
	Audience      string `yaml:"audience" toml:"audience" json:"audience"`
	AccessTTLRaw  string `yaml:"access_ttl" toml:"access_ttl" json:"access_ttl"`
	RefreshTTLRaw string `yaml:"refresh_ttl" toml:"refresh_ttl" json:"refresh_ttl"`
	AutoConfirm   bool   `yaml:"auto_confirm" toml:"auto_confirm" json:"auto_confirm"`
	JanitorRaw    string `yaml:"janitor_schedule" toml:"janitor_schedule" json:"janitor_schedule"`

	AccessTTL  time.Duration `yaml:"-" toml:"-" json:"-"`
	RefreshTTL time.Duration `yaml:"-" toml:"-" json:"-"`
}

type Store struct {
	Kind  string `yaml:"kind" toml:"kind" json:"kind"`
	Path  string `yaml:"path" toml:"path" json:"path"`
	Redis Redis  `yaml:"redis" toml:"redis" json:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr" toml:"addr" json:"addr"`
	Password string `yaml:"password" toml:"password" json:"-"`
	DB       int    `yaml:"db" toml:"db" json:"db"`
	Key      string `yaml:"key" toml:"key" json:"key"`
	TTLRaw   string `yaml:"ttl" toml:"ttl" json:"ttl"`

	TTL time.Duration `yaml:"-" toml:"-" json:"-"`
}

type Database struct {
	DSN            string `yaml:"dsn" toml:"dsn" json:"dsn"`
	Driver         string `yaml:"driver" toml:"driver" json:"driver"`
	Debug          bool   `yaml:"debug" toml:"debug" json:"debug"`
	PingTimeoutRaw string `yaml:"ping_timeout" toml:"ping_timeout" json:"ping_timeout"`

	PingTimeout time.Duration `yaml:"-" toml:"-" json:"-"`
}

func (d Database) GetDSN() string                { return d.DSN }
func (d Database) GetServer() string             { return d.DSN }
func (d Database) GetDriver() string             { return d.Driver }
func (d Database) GetDebug() bool                { return d.Debug }
func (d Database) GetPingTimeout() time.Duration { return d.PingTimeout }
func (d Database) GetOtelIdentifier() string     { return "" }

type Logging struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	// AuditPath receives session activity as JSON lines. Disabled when empty.
	AuditPath string `yaml:"audit_path" toml:"audit_path" json:"audit_path"`
}

// Metrics is served on its own listener, away from the site routes.
type Metrics struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" toml:"addr" json:"addr"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}
