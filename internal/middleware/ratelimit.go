package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub-io/learnhub/pkg/errors"
	"github.com/learnhub-io/learnhub/pkg/response"
)

// RateLimit limits requests per (clientIP, path) within a fixed window using
// a process-local store. Suitable for single-instance deployments and tests.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return RateLimitWithStore(NewMemoryRateStore(), maxRequests, window)
}

// RateLimitWithStore limits requests per (clientIP, path) against the
// supplied rate store, allowing counters to live in the shared cache.
func RateLimitWithStore(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := "http:" + c.ClientIP() + "|" + c.FullPath()

		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// The limiter must never take down the request path.
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
