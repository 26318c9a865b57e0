package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/schoolgate/schoolgate/internal/nfc"
)

// LoginRateLimit limits login attempts per card, email or IP using Redis if
// available. Cards are keyed by fingerprint so raw UIDs never reach Redis.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := "rl:login:" + loginSubject(c)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many login attempts, try again later"})
		}
		return c.Next()
	}
}

func loginSubject(c *fiber.Ctx) string {
	var req struct {
		NFCID string `json:"nfcId"`
		Email string `json:"email"`
	}
	_ = c.BodyParser(&req)
	if id := nfc.Normalize(nfc.RawTag(req.NFCID)); !id.Empty() {
		return "card:" + nfc.Fingerprint(id)
	}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return "email:" + email
	}
	return "ip:" + c.IP()
}
