package utils // package utils provides helper functions for token creation and hashing

import (
    "errors" // errors classifies jwt parse failures
    "time"   // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// Claims is the signed session payload.  Subject holds the user ID and
// Email the address the user logged in with.
type Claims struct {
    Email string `json:"email"`
    jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// TokenErrorKind says why a bearer token was rejected.
type TokenErrorKind int

const (
    TokenMissing TokenErrorKind = iota + 1
    TokenMalformed
    TokenExpired
    TokenInvalid
)

func (k TokenErrorKind) String() string {
    switch k {
    case TokenMissing:
        return "missing bearer token"
    case TokenMalformed:
        return "malformed token"
    case TokenExpired:
        return "token expired"
    default:
        return "invalid token"
    }
}

// TokenError is returned by ParseAccessToken.
type TokenError struct {
    Kind TokenErrorKind
    Err  error
}

func (e *TokenError) Error() string {
    if e.Err != nil {
        return e.Kind.String() + ": " + e.Err.Error()
    }
    return e.Kind.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

// NewAccessToken builds and signs an HS256 JWT for a user.  The token
// carries the user ID as subject, the email, and iat/exp timestamps.
func NewAccessToken(secret, userID, email string, ttl time.Duration) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := Claims{
        Email: email,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   userID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, algorithm and expiry of raw and
// returns its claims.  Every failure is a *TokenError.
func ParseAccessToken(secret, raw string) (Claims, error) {
    if raw == "" {
        return Claims{}, &TokenError{Kind: TokenMissing}
    }
    var claims Claims
    tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    switch {
    case err == nil && tok.Valid:
    case errors.Is(err, jwt.ErrTokenExpired):
        return Claims{}, &TokenError{Kind: TokenExpired, Err: err}
    case errors.Is(err, jwt.ErrTokenMalformed):
        return Claims{}, &TokenError{Kind: TokenMalformed, Err: err}
    default:
        return Claims{}, &TokenError{Kind: TokenInvalid, Err: err}
    }
    if claims.Subject == "" {
        return Claims{}, &TokenError{Kind: TokenInvalid, Err: errors.New("subject claim missing")}
    }
    return claims, nil
}
