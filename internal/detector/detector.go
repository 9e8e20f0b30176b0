// 이상 탐지 detector 공통 인터페이스와 registry 정의
//
// 처리 흐름:
//  1. 각 detector는 lookback 구간의 trace 집계 결과를 TraceReader로 조회
//  2. 집계 행마다 통계 검사 (z-score, 분산, 전일 대비 변화, 비율 배수)
//  3. 임계값을 넘는 행만 AnomalyAlert로 변환하여 반환
//
// detector는 호출 간 상태를 갖지 않음. 저장(persistence)은 scheduler가 담당

package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// TraceReader - trace 저장소 집계 쿼리 인터페이스 (detector 전용)
type TraceReader interface {
	AgentDomainScores(ctx context.Context, since time.Time, minTraces int) ([]model.AgentDomainScores, error)
	ActionConsistency(ctx context.Context, since time.Time) ([]model.ActionConsistency, error)
	AuditChain(ctx context.Context, since time.Time) ([]model.ChainEntry, error)
	DailyScores(ctx context.Context, since time.Time, minTracesPerDay int) ([]model.DailyScores, error)
	OverrideRates(ctx context.Context, since time.Time, minTraces int) ([]model.OverrideRate, error)
}

// Detector - lookback 구간을 분석해 0개 이상의 알림을 반환
type Detector interface {
	Mechanism() model.DetectionMechanism
	Detect(ctx context.Context) ([]model.AnomalyAlert, error)
}

// Clock - 현재 시각 함수 (테스트에서 고정 시각 주입)
type Clock func() time.Time

// Registry - DetectionMechanism별 detector 테이블
type Registry struct {
	detectors map[model.DetectionMechanism]Detector
}

// NewRegistry - detector 목록으로 registry 생성 (중복/미정의 mechanism은 에러)
func NewRegistry(detectors ...Detector) (*Registry, error) {
	r := &Registry{detectors: make(map[model.DetectionMechanism]Detector, len(detectors))}
	for _, d := range detectors {
		m := d.Mechanism()
		if !m.Valid() {
			return nil, fmt.Errorf("unknown detection mechanism %q", m)
		}
		if _, dup := r.detectors[m]; dup {
			return nil, fmt.Errorf("duplicate detector for mechanism %q", m)
		}
		r.detectors[m] = d
	}
	return r, nil
}

// NewDefaultRegistry - 5개 detector를 모두 등록한 registry 생성
func NewDefaultRegistry(reader TraceReader, cfg config.DetectionConfig, now Clock) *Registry {
	r, err := NewRegistry(
		NewDivergenceDetector(reader, cfg.Divergence, now),
		NewConsistencyDetector(reader, cfg.Consistency, now),
		NewHashChainDetector(reader, cfg.HashChain, now),
		NewDriftDetector(reader, cfg.Drift, now),
		NewOverrideDetector(reader, cfg.Override, now),
	)
	if err != nil {
		// 고정된 5개 mechanism이므로 발생하지 않음
		panic(err)
	}
	return r
}

// Get - mechanism에 해당하는 detector 조회
func (r *Registry) Get(m model.DetectionMechanism) (Detector, bool) {
	d, ok := r.detectors[m]
	return d, ok
}

// Ordered - AllMechanisms 순서대로 등록된 detector 반환
func (r *Registry) Ordered() []Detector {
	out := make([]Detector, 0, len(r.detectors))
	for _, m := range model.AllMechanisms() {
		if d, ok := r.detectors[m]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len - 등록된 detector 수
func (r *Registry) Len() int {
	return len(r.detectors)
}

func clockOrDefault(now Clock) Clock {
	if now == nil {
		return time.Now
	}
	return now
}
