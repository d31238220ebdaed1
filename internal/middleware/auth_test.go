package middleware

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/auth"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp(cfg *config.Config, mw fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/", mw, func(c *fiber.Ctx) error {
		return c.SendString(strconv.FormatInt(GetPrincipalID(c), 10))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	app := testApp(cfg, AuthMiddleware(cfg, zap.NewNop()))

	tok, err := auth.GenerateJWT("secret", 101, "asha", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + tok, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"no bearer prefix", tok, fiber.StatusUnauthorized},
		{"garbage", "Bearer abc", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	cfg := &config.Config{InternalAPIKey: "k"}
	app := testApp(cfg, InternalAuthMiddleware(cfg, zap.NewNop()))

	tests := []struct {
		name      string
		key       string
		principal string
		status    int
	}{
		{"valid", "k", "202", fiber.StatusOK},
		{"wrong key", "x", "202", fiber.StatusUnauthorized},
		{"no principal", "k", "", fiber.StatusBadRequest},
		{"system principal", "k", "0", fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set(HeaderInternalKey, tt.key)
			if tt.principal != "" {
				req.Header.Set(HeaderPrincipalID, tt.principal)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	unset := &config.Config{}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderPrincipalID, "202")
	resp, err := testApp(unset, InternalAuthMiddleware(unset, zap.NewNop())).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAdminMiddleware(t *testing.T) {
	cfg := &config.Config{InternalAPIKey: "k", AdminTelegramIDs: []int64{900}}
	app := fiber.New()
	app.Get("/", InternalAuthMiddleware(cfg, zap.NewNop()), AdminMiddleware(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	for principal, status := range map[string]int{"900": fiber.StatusNoContent, "101": fiber.StatusForbidden} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderInternalKey, "k")
		req.Header.Set(HeaderPrincipalID, principal)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, principal)
	}
}
