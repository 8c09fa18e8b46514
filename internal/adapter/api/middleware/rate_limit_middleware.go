package middleware

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"rosterchat/internal/infrastructure/ratelimit"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/response"
)

// RateLimit limits an authenticated route per user and action. Anonymous
// requests are keyed by client IP.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c)
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, action)
			if !allowed {
				log.Printf("RATE LIMIT: %s blocked on %s (retry in %v)", key, action, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, try again in %s", wait.Round(time.Second))))
			}

			return next(c)
		}
	}
}
