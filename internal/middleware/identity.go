package middleware

// identity.go defines helpers shared across middleware files and handlers for
// reading the authenticated identity that JWTAuth stored in the Echo context.

import (
    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's ID, or "" when the request carries
// no verified token.
func UserID(c echo.Context) string {
    if v, ok := c.Get(CtxUserID).(string); ok {
        return v
    }
    return ""
}

// Email returns the email claim of the verified token, or "".
func Email(c echo.Context) string {
    if v, ok := c.Get(CtxEmail).(string); ok {
        return v
    }
    return ""
}

// currentUserID is UserID with an "anon" placeholder for key building.
func currentUserID(c echo.Context) string {
    if id := UserID(c); id != "" {
        return id
    }
    return "anon"
}
