package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per client ip over a fixed window using a
// redis counter. With no redis client it is a no-op, matching
// single-node development setups.
func RateLimit(rdb *redis.Client, prefix string, max int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil {
			return c.Next()
		}
		key := fmt.Sprintf("%s:ratelimit:%s", prefix, c.IP())
		count, err := rdb.Incr(c.Context(), key).Result()
		if err != nil {
			// redis trouble should not take the API down
			return c.Next()
		}
		if count == 1 {
			rdb.Expire(c.Context(), key, window)
		}
		if count > int64(max) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests",
			})
		}
		return c.Next()
	}
}
