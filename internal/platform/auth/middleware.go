package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/patholab/lis/internal/platform/apperr"
)

// IdentityLoader resolves a token subject into an active user. Implementations
// return an error for unknown or inactive users.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID string) (*Identity, error)
}

// BearerMiddleware verifies the Authorization header, loads the user and stores
// the Identity on the request context. Requests for which skipper returns true
// pass through untouched.
func BearerMiddleware(issuer *TokenIssuer, loader IdentityLoader, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apperr.Unauthorized("missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return apperr.Unauthorized("invalid authorization format")
			}

			userID, err := issuer.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				return apperr.Unauthorized("invalid token")
			}

			ctx := c.Request().Context()
			id, err := loader.LoadIdentity(ctx, userID)
			if err != nil {
				if k := apperr.KindOf(err); k == apperr.KindStoreTimeout || k == apperr.KindInternal {
					return err
				}
				return apperr.Unauthorized("user not found or inactive")
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}
