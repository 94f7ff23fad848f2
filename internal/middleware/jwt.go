package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"   // errors unwraps token failures
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/leafguard/internal/utils" // token parsing and claim types
)

// Context keys set by JWTAuth.
const (
    CtxUserID = "user_id"
    CtxEmail  = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and email claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Handlers read
// the authenticated user via `c.Get("user_id")` and `c.Get("email")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // A valid header starts with "Bearer " followed by the JWT.
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": utils.TokenMissing.String()})
            }
            raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

            // ParseAccessToken pins HS256 and requires exp and sub.
            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                kind := utils.TokenInvalid
                var te *utils.TokenError
                if errors.As(err, &te) {
                    kind = te.Kind
                }
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": kind.String()})
            }

            c.Set(CtxUserID, claims.Subject)
            c.Set(CtxEmail, claims.Email)
            return next(c)
        }
    }
}
