package config

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/robfig/cron/v3"
)

var scheduleRule = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := cron.ParseStandard(s)
	return err
})

func (c BaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Auth),
		validation.Field(&c.Provider),
		validation.Field(&c.Sessions),
		validation.Field(&c.Store),
		validation.Field(&c.Logging),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.CSRFKey, validation.Length(32, 0)),
	)
}

func (s Sessions) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Key, validation.Length(32, 0)),
		validation.Field(&s.CookieName, validation.Required),
		validation.Field(&s.MaxClients, validation.Min(0)),
		validation.Field(&s.SweepSchedule, scheduleRule),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.AdminEmail, is.Email),
		validation.Field(&a.SiteURL, validation.Required, is.URL),
	)
}

func (p Provider) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Kind, validation.Required, validation.In(ProviderLocal, ProviderGoTrue)),
		validation.Field(&p.RefreshScheduleRaw, scheduleRule),
	)
	if err != nil {
		return err
	}

	switch p.Kind {
	case ProviderGoTrue:
		return p.GoTrue.Validate()
	default:
		return p.Local.Validate()
	}
}

func (g GoTrue) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.URL, validation.Required, is.URL),
		validation.Field(&g.APIKey, validation.Required),
		validation.Field(&g.JWKSURL, is.URL),
		validation.Field(&g.RateLimit, validation.Min(0.0)),
		validation.Field(&g.RateBurst, validation.Min(0)),
	)
}

func (l Local) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&l.JanitorRaw, scheduleRule),
	)
}

func (s Store) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Kind, validation.Required, validation.In(StoreMemory, StoreFile, StoreRedis)),
	)
	if err != nil {
		return err
	}

	switch s.Kind {
	case StoreFile:
		return validation.ValidateStruct(&s, validation.Field(&s.Path, validation.Required))
	case StoreRedis:
		return s.Redis.Validate()
	}
	return nil
}

func (r Redis) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

func (l Logging) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "error")),
	)
}
