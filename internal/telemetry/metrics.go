package telemetry

import (
	"time"

	"github.com/agent-lens/backend/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// detector 실행 결과 라벨
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultPanic = "panic"
)

// 알림 저장 결과 라벨
const (
	PersistInserted  = "inserted"
	PersistDuplicate = "duplicate"
	PersistFailed    = "failed"
)

var (
	// detectorRuns - mechanism별 detector 실행 횟수
	// Labels: mechanism, result (ok, error, panic)
	detectorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lens",
		Subsystem: "detector",
		Name:      "runs_total",
		Help:      "Total detector runs by mechanism and result",
	}, []string{"mechanism", "result"})

	detectorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lens",
		Subsystem: "detector",
		Name:      "duration_seconds",
		Help:      "Detector run duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mechanism"})

	alertsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lens",
		Subsystem: "alerts",
		Name:      "detected_total",
		Help:      "Total anomaly alerts produced by detectors",
	}, []string{"mechanism", "severity"})

	// alertsPersisted - Labels: result (inserted, duplicate, failed)
	alertsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lens",
		Subsystem: "alerts",
		Name:      "persisted_total",
		Help:      "Alert persistence attempts by result",
	}, []string{"result"})
)

// ObserveDetectorRun - detector 1회 실행 기록
func ObserveDetectorRun(mechanism model.DetectionMechanism, result string, elapsed time.Duration) {
	detectorRuns.WithLabelValues(string(mechanism), result).Inc()
	detectorDuration.WithLabelValues(string(mechanism)).Observe(elapsed.Seconds())
}

// ObserveAlerts - 생성된 알림을 mechanism/severity별로 집계
func ObserveAlerts(alerts []model.AnomalyAlert) {
	for _, a := range alerts {
		alertsDetected.WithLabelValues(string(a.Mechanism), string(a.Severity)).Inc()
	}
}

func ObservePersist(result string) {
	alertsPersisted.WithLabelValues(result).Inc()
}
