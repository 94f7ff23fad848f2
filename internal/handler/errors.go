package handler

import (
    "errors"
    "fmt"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/leafguard/internal/logging"
    "github.com/iliyamo/leafguard/internal/service"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(k service.Kind) int {
    switch k {
    case service.KindValidation:
        return http.StatusBadRequest
    case service.KindConflict:
        return http.StatusConflict
    case service.KindAuth:
        return http.StatusUnauthorized
    case service.KindNotFound:
        return http.StatusNotFound
    case service.KindUpstream:
        return http.StatusBadGateway
    default:
        return http.StatusInternalServerError
    }
}

// respondError writes err as {"error": msg}.  Internal causes are logged
// and replaced by a generic message.
func respondError(c echo.Context, err error) error {
    var se *service.Error
    if !errors.As(err, &se) {
        return err // HTTPErrorHandler
    }
    status := statusFor(se.Kind)
    msg := se.Msg
    if status >= http.StatusInternalServerError {
        ev := logging.Error()
        if status == http.StatusBadGateway {
            ev = logging.Warn()
        }
        ev.Err(se).Str("path", c.Path()).Str("kind", se.Kind.String()).Msg("request failed")
        if status == http.StatusInternalServerError {
            msg = "internal server error"
        }
    }
    return c.JSON(status, echo.Map{"error": msg})
}

// HTTPErrorHandler renders errors that escaped the handlers.  echo.HTTPError
// keeps its status; anything else becomes a generic 500.
func HTTPErrorHandler(err error, c echo.Context) {
    if c.Response().Committed {
        return
    }

    var se *service.Error
    if errors.As(err, &se) {
        _ = respondError(c, se)
        return
    }

    status := http.StatusInternalServerError
    msg := "internal server error"
    var he *echo.HTTPError
    if errors.As(err, &he) {
        status = he.Code
        if m, ok := he.Message.(string); ok {
            msg = m
        } else if he.Message != nil {
            msg = fmt.Sprint(he.Message)
        }
    }
    if status >= http.StatusInternalServerError {
        logging.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
    }

    if c.Request().Method == http.MethodHead {
        err = c.NoContent(status)
    } else {
        err = c.JSON(status, echo.Map{"error": msg})
    }
    if err != nil {
        logging.Error().Err(err).Msg("failed to write error response")
    }
}
