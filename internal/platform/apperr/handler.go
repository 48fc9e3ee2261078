package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope written for every failed request.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPErrorHandler returns an echo.HTTPErrorHandler that renders tagged errors with
// the status of their kind. Internal errors are logged with their cause and the
// caller only sees a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func render(err error) (int, Body) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		return he.Code, Body{Error: http.StatusText(he.Code), Message: msg}
	}

	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err, "unexpected error")
	}
	status := Status(e.Kind)
	msg := e.Message
	if e.Kind == KindInternal {
		msg = "internal server error"
	}
	return status, Body{Error: string(e.Kind), Message: msg}
}
