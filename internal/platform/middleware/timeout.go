package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/platform/apperr"
)

// RequestTimeout sets a deadline on each request context. Store calls made by the
// handler inherit it, so a slow request fails with StoreTimeout instead of holding
// a pooled connection. The handler runs on the request goroutine; nothing writes
// to the response after it returns.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && apperr.KindOf(err) == apperr.KindInternal {
				return apperr.Wrap(apperr.KindStoreTimeout, err, "request exceeded %s", timeout)
			}
			return err
		}
	}
}
