package middleware

import (
	"strconv"
	"time"

	"github.com/OFFIS-RIT/kgstore/pkg/metrics"

	"github.com/labstack/echo/v4"
)

// Metrics records request counts and latency by route template.
func Metrics(collector *metrics.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the response so the status is final
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)
			collector.HTTPRequests.WithLabelValues(method, route, status).Inc()
			collector.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
