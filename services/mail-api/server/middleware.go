package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
)

// Observability tags each request with an id, then records the route's
// status and latency once the handler chain returns.
func Observability() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		c.Set("request_id", rid)

		c.Next()

		lat := time.Since(start).Seconds()
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, route).Observe(lat)

		if route == "/healthz" || route == "/metrics" {
			return
		}
		logx.L().Infow("http_access",
			"rid", rid,
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", lat,
			"user_id", auth.UserID(c),
			"client_ip", c.ClientIP(),
		)
	}
}
