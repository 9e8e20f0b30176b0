package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// requestLogger - gin 기본 logger 대신 zerolog로 요청 로그 기록
// /metrics, /ping 같은 polling 요청은 debug 레벨
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := zerolog.InfoLevel
		switch {
		case c.Writer.Status() >= 500:
			level = zerolog.ErrorLevel
		case c.FullPath() == "/metrics" || c.FullPath() == "/ping" || c.FullPath() == "/healthz":
			level = zerolog.DebugLevel
		}

		log.WithLevel(level).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
