package middleware

import (
	"time"

	"TrendConfirm/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one structured line per request. 5xx go out at
// error level; requests slower than slow are warned.
func RequestLogging(log *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			took := time.Since(start)
			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.Int("status", status),
				logger.Duration("duration_ms", took),
				logger.Int64("bytes", c.Response().Size),
			}
			switch {
			case status >= 500:
				log.Error("http request failed", append(fields, logger.Error(err))...)
			case slow > 0 && took >= slow:
				log.Warn("http request slow", fields...)
			default:
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}
