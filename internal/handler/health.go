package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/agent-lens/backend/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// Pinger - 알림 저장소 연결 확인
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobLister - scheduler job 상태 조회
type JobLister interface {
	Jobs() []scheduler.JobStatus
	Running() bool
}

// 헬스체크 엔드포인트
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// 루트 엔드포인트
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "agent-lens anomaly detection engine is running",
	})
}

// HealthHandler - 저장소 연결과 scheduler 상태를 함께 보고
type HealthHandler struct {
	store Pinger
	jobs  JobLister
}

func NewHealthHandler(store Pinger, jobs JobLister) *HealthHandler {
	return &HealthHandler{store: store, jobs: jobs}
}

// Healthz - 저장소 ping 실패 시 503
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"scheduler_running": h.jobs.Running(),
		"jobs":              h.jobs.Jobs(),
	}
	if err := h.store.Ping(ctx); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}
