// Cross-agent divergence detector
//
// 처리 흐름:
//  1. 서명 검증된 trace를 (agent, domain)으로 묶어 plausibility/alignment/coherence 평균 조회
//     (최소 trace 수 미만 쌍은 저장소 쿼리에서 제외)
//  2. agent 수가 최소 기준 미만인 domain 제외
//  3. domain별 평균/표준편차 계산
//  4. metric별 z-score가 warning 임계값을 넘으면 metric마다 알림 1건

package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// 비교 대상 metric 이름
const (
	MetricPlausibility = "csdma_plausibility_score"
	MetricAlignment    = "dsdma_domain_alignment"
	MetricCoherence    = "coherence_level"
)

type divergenceMetric struct {
	name  string
	value func(model.AgentDomainScores) float64
}

var divergenceMetrics = []divergenceMetric{
	{name: MetricPlausibility, value: func(s model.AgentDomainScores) float64 { return s.AvgPlausibility }},
	{name: MetricAlignment, value: func(s model.AgentDomainScores) float64 { return s.AvgAlignment }},
	{name: MetricCoherence, value: func(s model.AgentDomainScores) float64 { return s.AvgCoherence }},
}

// DivergenceDetector 구조체 정의
type DivergenceDetector struct {
	reader TraceReader
	cfg    config.DivergenceConfig
	now    Clock
}

// DivergenceDetector 객체 생성
func NewDivergenceDetector(reader TraceReader, cfg config.DivergenceConfig, now Clock) *DivergenceDetector {
	return &DivergenceDetector{reader: reader, cfg: cfg, now: clockOrDefault(now)}
}

func (d *DivergenceDetector) Mechanism() model.DetectionMechanism {
	return model.MechanismCrossAgentDivergence
}

func (d *DivergenceDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	now := d.now()
	rows, err := d.reader.AgentDomainScores(ctx, now.Add(-d.cfg.Lookback), d.cfg.MinTraces)
	if err != nil {
		return nil, fmt.Errorf("query agent domain scores: %w", err)
	}
	return d.evaluate(rows, now), nil
}

// evaluate - 집계 행으로부터 알림 계산 (저장소와 무관한 순수 로직)
func (d *DivergenceDetector) evaluate(rows []model.AgentDomainScores, now time.Time) []model.AnomalyAlert {
	byDomain := make(map[string][]model.AgentDomainScores)
	var domains []string
	for _, row := range rows {
		// 저장소가 이미 필터링하지만 최소 trace 기준은 여기서도 보장
		if row.TraceCount < d.cfg.MinTraces {
			continue
		}
		if _, seen := byDomain[row.Domain]; !seen {
			domains = append(domains, row.Domain)
		}
		byDomain[row.Domain] = append(byDomain[row.Domain], row)
	}

	var alerts []model.AnomalyAlert
	for _, domain := range domains {
		pairs := byDomain[domain]
		if len(pairs) < d.cfg.MinAgents {
			continue
		}

		for _, metric := range divergenceMetrics {
			values := make([]float64, len(pairs))
			for i, p := range pairs {
				values[i] = metric.value(p)
			}
			domainMean := mean(values)
			domainStddev := sampleStddev(values)
			if domainStddev <= 0 {
				continue
			}

			for i, p := range pairs {
				z := zScore(values[i], domainMean, domainStddev)
				if z <= d.cfg.ZScoreWarning {
					continue
				}
				severity := model.SeverityWarning
				if z > d.cfg.ZScoreCritical {
					severity = model.SeverityCritical
				}
				domainKey := domain
				alert := model.NewAnomalyAlert(
					severity,
					model.MechanismCrossAgentDivergence,
					p.AgentIDHash,
					&domainKey,
					metric.name,
					values[i],
					domainMean,
					fmt.Sprintf("%.1fσ", z),
					now,
					p.RecentTraceIDs,
				)
				alerts = append(alerts, withRecommendation(alert))
			}
		}
	}
	return alerts
}
