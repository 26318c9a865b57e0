package middleware

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/schoolgate/schoolgate/internal/session"
)

type staticParser map[string]*session.Claims

func (p staticParser) ParseAccess(token string) (*session.Claims, error) {
	if c, ok := p[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestJWTAuthSetsLocals(t *testing.T) {
	parser := staticParser{"good": {
		Email:            "driver@school.test",
		Role:             "driver",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "stf-1"},
	}}
	app := fiber.New()
	app.Get("/me", JWTAuth(parser), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string) + "/" + c.Locals("role").(string))
	})

	tests := []struct {
		authz  string
		status int
	}{
		{"", fiber.StatusUnauthorized},
		{"Basic abc", fiber.StatusUnauthorized},
		{"Bearer nope", fiber.StatusUnauthorized},
		{"Bearer good", fiber.StatusOK},
		{"bearer good", fiber.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if tt.authz != "" {
			req.Header.Set(fiber.HeaderAuthorization, tt.authz)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tt.status {
			t.Fatalf("%q: expected %d got %d", tt.authz, tt.status, resp.StatusCode)
		}
	}
}

func TestLoginRateLimitPerCard(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, 2), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(body string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	// differently formatted payloads of the same card share a budget
	for _, body := range []string{`{"nfcId":"04:a3:b2:c1"}`, `{"nfcId":"NFC:04A3B2C1"}`} {
		if status := send(body); status != fiber.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
	}
	if status := send(`{"nfcId":"04A3B2C1"}`); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status := send(`{"nfcId":"AABBCCDD"}`); status != fiber.StatusOK {
		t.Fatalf("other cards must not be limited, got %d", status)
	}
	for _, k := range mr.Keys() {
		if strings.Contains(k, "04A3B2C1") {
			t.Fatalf("raw uid stored in redis key %q", k)
		}
	}
}

func TestLoginRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/login", LoginRateLimit(nil, 1), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/login", nil))
		if err != nil || resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected pass-through, got %v %v", resp, err)
		}
	}
}

func TestRequestIDReplacesInvalidValues(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(c.Locals(requestIDHeader).(string)) })

	tests := []struct {
		in   string
		keep bool
	}{
		{"kiosk-7-000123", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if tt.in != "" {
			req.Header.Set(requestIDHeader, tt.in)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		got := resp.Header.Get(requestIDHeader)
		if tt.keep && got != tt.in {
			t.Fatalf("expected %q to be kept, got %q", tt.in, got)
		}
		if !tt.keep && (got == tt.in || got == "") {
			t.Fatalf("expected %q to be replaced, got %q", tt.in, got)
		}
	}
}
