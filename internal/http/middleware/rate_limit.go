package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/moises-m-limon/mangalytics/internal/http/response"
)

const codeRateLimited = "rate_limited"

var errRateLimited = errors.New("too many requests")

// RateLimit rejects requests with 429 once the shared limiter is exhausted.
// A nil limiter disables the check.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if !limiter.Allow() {
			response.RespondError(c, http.StatusTooManyRequests, codeRateLimited, errRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// NewLimiter returns nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
