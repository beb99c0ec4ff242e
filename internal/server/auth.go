package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// tokenFile holds the generated auth token so local tooling can pick it up.
const tokenFile = ".qc_token"

// EnsureToken returns the configured auth token, generating one when the
// environment provides none. Generated tokens are written to .qc_token in the
// data directory with owner-only permissions and are never logged.
func EnsureToken(dir, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, tokenFile)
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}

// RequireToken guards a route with an X-Auth-Token header check using a
// constant-time comparison.
func RequireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("X-Auth-Token")
			if token == "" || got == "" ||
				subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": map[string]interface{}{
						"type":    "authentication_error",
						"message": "missing or invalid X-Auth-Token header",
					},
				})
			}
			return next(c)
		}
	}
}
