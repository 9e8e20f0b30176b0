package detector

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/agent-lens/backend/internal/model"
	"github.com/rs/zerolog/log"
)

// PanicError - detector 실행 중 발생한 panic
type PanicError struct {
	Mechanism model.DetectionMechanism
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("detector %s panicked: %v\n%s", e.Mechanism, e.Value, e.Stack)
}

// SafeDetect - detector 실행, panic은 *PanicError로 변환
func SafeDetect(ctx context.Context, d Detector) (alerts []model.AnomalyAlert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Mechanism: d.Mechanism(), Value: r, Stack: debug.Stack()}
			alerts = nil
		}
	}()
	return d.Detect(ctx)
}

// RunAll - 등록된 모든 detector 실행 후 결과를 합쳐 정렬
// 개별 detector 실패는 로그만 남기고 나머지 detector는 계속 실행
func RunAll(ctx context.Context, registry *Registry) []model.AnomalyAlert {
	var all []model.AnomalyAlert
	for _, d := range registry.Ordered() {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("Detection run canceled")
			break
		}
		alerts, err := SafeDetect(ctx, d)
		if err != nil {
			log.Warn().Err(err).Str("mechanism", string(d.Mechanism())).Msg("Detector failed, skipping")
			continue
		}
		all = append(all, alerts...)
	}
	SortAlerts(all)
	return all
}

// SortAlerts - CRITICAL 먼저, 같은 심각도 안에서는 timestamp 오름차순 (stable)
func SortAlerts(alerts []model.AnomalyAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ci := alerts[i].Severity == model.SeverityCritical
		cj := alerts[j].Severity == model.SeverityCritical
		if ci != cj {
			return ci
		}
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}
