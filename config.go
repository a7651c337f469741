package auth

import "time"

// Default paths used when Settings leaves them empty.
const (
	DefaultLoginPath          = "/login"
	DefaultForgotPasswordPath = "/forgot-password"
	DefaultResetPasswordPath  = "/reset-password"
	DefaultSignUpSuccessPath  = "/success"
	DefaultRedirectParam      = "rejected_route"
)

// Settings is a plain Config implementation. Zero values fall back to
// the package defaults.
type Settings struct {
	AdminEmail         string        `yaml:"admin_email" toml:"admin_email" json:"admin_email"`
	SiteURL            string        `yaml:"site_url" toml:"site_url" json:"site_url"`
	LoginPath          string        `yaml:"login_path" toml:"login_path" json:"login_path"`
	ForgotPasswordPath string        `yaml:"forgot_password_path" toml:"forgot_password_path" json:"forgot_password_path"`
	ResetPasswordPath  string        `yaml:"reset_password_path" toml:"reset_password_path" json:"reset_password_path"`
	SignUpSuccessPath  string        `yaml:"signup_success_path" toml:"signup_success_path" json:"signup_success_path"`
	RedirectParam      string        `yaml:"redirect_param" toml:"redirect_param" json:"redirect_param"`
	RequestTimeout     time.Duration `yaml:"-" toml:"-" json:"-"`
}

var _ Config = Settings{}

func (s Settings) GetAdminEmail() string { return s.AdminEmail }

func (s Settings) GetSiteURL() string { return s.SiteURL }

func (s Settings) GetLoginPath() string {
	return orDefault(s.LoginPath, DefaultLoginPath)
}

func (s Settings) GetForgotPasswordPath() string {
	return orDefault(s.ForgotPasswordPath, DefaultForgotPasswordPath)
}

func (s Settings) GetResetPasswordPath() string {
	return orDefault(s.ResetPasswordPath, DefaultResetPasswordPath)
}

func (s Settings) GetSignUpSuccessPath() string {
	return orDefault(s.SignUpSuccessPath, DefaultSignUpSuccessPath)
}

func (s Settings) GetRedirectParam() string {
	return orDefault(s.RedirectParam, DefaultRedirectParam)
}

func (s Settings) GetRequestTimeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return s.RequestTimeout
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
