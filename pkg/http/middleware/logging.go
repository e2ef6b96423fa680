package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// RequestLogging logs completed requests; 5xx at error level, slow requests
// as warnings, everything else at debug.
func RequestLogging(l *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	if l == nil {
		l = logger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("path", c.Path()),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", latency),
			}
			switch {
			case c.Response().Status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && latency >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
