package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter - ops 엔드포인트 라우터 (/ping, /, /healthz, /metrics)
// 알림 조회/확인 API는 별도 API 레이어가 담당
func NewRouter(serviceName string, health *HealthHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger())

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/healthz", health.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
