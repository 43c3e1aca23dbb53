package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moises-m-limon/mangalytics/internal/observability"
)

const unmatchedRoute = "unmatched"

// Metrics records per-route latency and in-flight requests. Scrapes of the
// metrics endpoint itself are not counted.
func Metrics(m *observability.Metrics, skip ...string) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			// keeps label cardinality bounded for 404 probes
			route = unmatchedRoute
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
