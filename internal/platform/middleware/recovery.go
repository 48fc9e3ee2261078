package middleware

import (
	"fmt"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
)

const panicStackSize = 8 << 10

// Recovery turns a handler panic into an Internal error and logs it with the
// request id, route and caller so it can be matched to the audit trail.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, panicStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				ev := logger.Error().
					Str("request_id", RequestIDFrom(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack)
				if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
					ev = ev.Str("user_id", uid)
				}
				ev.Msg("handler panicked")

				err = apperr.Internal(fmt.Errorf("panic: %v", r), "internal error")
			}()
			return next(c)
		}
	}
}
