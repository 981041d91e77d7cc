package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// APITokenAuth authenticates requests with a bearer token checked against a
// bcrypt hash. An empty hash disables authentication.
func APITokenAuth(tokenHash string, logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "api_token_auth").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if tokenHash == "" {
			return next
		}

		return func(c echo.Context) error {
			if isPublicPath(c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing API token"})
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			if !VerifyToken(tokenHash, tokenString) {
				logger.Warn().Str("client_ip", c.RealIP()).Str("path", c.Path()).Msg("invalid API token")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid API token"})
			}

			c.Set("is_api_token", true)
			c.Set("api_token_id", tokenID(tokenString))
			return next(c)
		}
	}
}

// HashToken returns the bcrypt hash to configure for token
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken reports whether token matches the bcrypt hash
func VerifyToken(hash, token string) bool {
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// tokenID is a stable, non-secret key for rate limiting by token
func tokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/metrics"
}
