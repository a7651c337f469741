package csrf

import (
	"github.com/goliatone/go-router"
)

// RegisterRoutes mounts GET path, which hands the current token to
// script clients. The middleware must run first so the token exists.
func RegisterRoutes[T any](app router.Router[T], path string) {
	app.Get(path, TokenHandler(DefaultContextKey)).SetName("csrf.token")
}

// TokenHandler responds with the token stored under contextKey.
func TokenHandler(contextKey string) router.HandlerFunc {
	return func(ctx router.Context) error {
		ctx.SetHeader("Cache-Control", "no-store, max-age=0")

		token, _ := ctx.Locals(contextKey).(string)
		if token == "" {
			return ctx.JSON(router.StatusUnauthorized, router.ViewContext{
				"success":   false,
				"error":     ErrTokenMissing.Message,
				"text_code": ErrTokenMissing.TextCode,
			})
		}
		return ctx.JSON(router.StatusOK, map[string]string{
			"token":       token,
			"header_name": DefaultHeaderName,
			"field_name":  DefaultFieldName,
		})
	}
}
