package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edm/edm/pkg/edm"
)

// ErrorBody is the JSON shape of every error response:
// {"error":{"kind":"invalid_facts","message":"...","path":"context.facts"}}.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Offset  *int64 `json:"offset,omitempty"`
}

// codecError maps a codec error to 422 Unprocessable Entity.
func codecError(err error) *echo.HTTPError {
	he := echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	he.Internal = err
	return he
}

// bodyError passes through body-limit errors and reports anything else as a
// bad request.
func bodyError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "read request body: "+err.Error())
}

// ErrorHandler renders errors as ErrorBody. Server errors hide their
// internal message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		he, ok := err.(*echo.HTTPError)
		if !ok {
			he = &echo.HTTPError{Code: http.StatusInternalServerError, Internal: err}
		}

		body := ErrorBody{Kind: kindFor(he)}
		if he.Code >= http.StatusInternalServerError {
			body.Message = http.StatusText(he.Code)
		} else if msg, ok := he.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = http.StatusText(he.Code)
		}

		var de *edm.DecodeError
		if errors.As(he.Internal, &de) {
			body.Path = de.Path
			if de.Offset >= 0 {
				off := de.Offset
				body.Offset = &off
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, map[string]ErrorBody{"error": body})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func kindFor(he *echo.HTTPError) string {
	if k := edm.KindOf(he.Internal); k != 0 {
		return k.String()
	}
	text := http.StatusText(he.Code)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
