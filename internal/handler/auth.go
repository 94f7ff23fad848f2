package handler

import (
    "net/http" // HTTP status codes and primitives
    "time"     // token expiry in responses

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/iliyamo/leafguard/internal/middleware" // authenticated identity accessors
    "github.com/iliyamo/leafguard/internal/service"    // registration and login
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Auth *service.AuthService
}

func NewAuthHandler(a *service.AuthService) *AuthHandler {
    return &AuthHandler{Auth: a}
}

// ----- DTOs -----

// registerReq accepts either "name" or "username" for the display name.
type registerReq struct {
    Name     string `json:"name" validate:"required_without=Username,max=100"`
    Username string `json:"username" validate:"max=100"`
    Email    string `json:"email" validate:"required,email"`
    Password string `json:"password" validate:"required,max=72"`
}
type loginReq struct {
    Email    string `json:"email" validate:"required"`
    Password string `json:"password" validate:"required"`
}
type loginResp struct {
    Token     string    `json:"token"`
    ExpiresAt time.Time `json:"expiresAt"`
}

// Register creates a user.  No token is issued; the client logs in next.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if err := c.Validate(&req); err != nil {
        return respondError(c, err)
    }
    name := req.Name
    if name == "" {
        name = req.Username
    }

    if _, err := h.Auth.Register(c.Request().Context(), service.RegisterInput{
        Name:     name,
        Email:    req.Email,
        Password: req.Password,
    }); err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"message": "User registered successfully"})
}

// Login exchanges credentials for an access token.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if err := c.Validate(&req); err != nil {
        return respondError(c, err)
    }

    tok, err := h.Auth.Login(c.Request().Context(), req.Email, req.Password)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, loginResp{Token: tok.Token, ExpiresAt: tok.Exp})
}

// Me returns the identity carried by the bearer token.
func (h *AuthHandler) Me(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{
        "userId": middleware.UserID(c),
        "email":  middleware.Email(c),
    })
}
