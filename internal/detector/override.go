package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// MetricOverrideRate - conscience override 알림의 metric 이름
const MetricOverrideRate = "conscience_override_rate"

// OverrideDetector - domain 평균 대비 conscience override 비율이 과도한 agent 탐지
type OverrideDetector struct {
	reader TraceReader
	cfg    config.OverrideConfig
	now    Clock
}

func NewOverrideDetector(reader TraceReader, cfg config.OverrideConfig, now Clock) *OverrideDetector {
	return &OverrideDetector{reader: reader, cfg: cfg, now: clockOrDefault(now)}
}

func (d *OverrideDetector) Mechanism() model.DetectionMechanism {
	return model.MechanismConscienceOverride
}

func (d *OverrideDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	now := d.now()
	rows, err := d.reader.OverrideRates(ctx, now.Add(-d.cfg.Lookback), d.cfg.MinTraces)
	if err != nil {
		return nil, fmt.Errorf("query override rates: %w", err)
	}
	return d.evaluate(rows, now), nil
}

// severityForRatio - agent 비율 / domain 평균 배수로 심각도 판정
// warning 배수를 넘지 않으면 false
func (d *OverrideDetector) severityForRatio(ratio float64) (model.Severity, bool) {
	if ratio <= d.cfg.WarningMultiplier+floatTolerance {
		return "", false
	}
	if atLeast(ratio, d.cfg.CriticalMultiplier) {
		return model.SeverityCritical, true
	}
	return model.SeverityWarning, true
}

func (d *OverrideDetector) evaluate(rows []model.OverrideRate, now time.Time) []model.AnomalyAlert {
	byDomain := make(map[string][]model.OverrideRate)
	var domains []string
	for _, row := range rows {
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
		rates := make([]float64, len(pairs))
		for i, p := range pairs {
			rates[i] = p.Rate()
		}
		domainMean := mean(rates)
		if domainMean <= 0 {
			continue
		}

		for i, p := range pairs {
			ratio := rates[i] / domainMean
			severity, ok := d.severityForRatio(ratio)
			if !ok {
				continue
			}
			domainKey := domain
			alert := model.NewAnomalyAlert(
				severity,
				model.MechanismConscienceOverride,
				p.AgentIDHash,
				&domainKey,
				MetricOverrideRate,
				rates[i],
				domainMean,
				fmt.Sprintf("%.1fx", ratio),
				now,
				p.RecentTraceIDs,
			)
			alerts = append(alerts, withRecommendation(alert))
		}
	}
	return alerts
}
