package handler // declare the package name; contains HTTP handlers

import (
    "context"  // bounded store ping
    "net/http" // net/http provides status codes and response helpers
    "time"

    "github.com/labstack/echo/v4" // echo is the web framework used for this project

    "github.com/iliyamo/leafguard/internal/database"
)

// Pinger is any store that can report reachability.
type Pinger interface {
    Ping(ctx context.Context) error
}

// HealthHandler reports whether the API and its store are reachable.
type HealthHandler struct {
    Store  Pinger
    Status *database.Status
    Driver string
}

// Health is used by load balancers and monitoring systems.  It answers 200
// when the store responds to a ping and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    if err := h.Store.Ping(ctx); err != nil {
        if h.Status != nil {
            h.Status.Set(database.StateUnavailable)
        }
        return c.JSON(http.StatusServiceUnavailable, echo.Map{
            "status":  "unavailable",
            "message": "store unreachable",
            "store":   h.Driver,
        })
    }
    if h.Status != nil {
        h.Status.Set(database.StateReady)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "status":  "ok",
        "message": "LeafGuard API Running",
        "store":   h.Driver,
    })
}
