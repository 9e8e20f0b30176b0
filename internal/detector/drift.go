package detector

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// DriftDetector - agent별 일 평균 coherence/plausibility를 직전 날짜와 비교
// 직전 날짜는 달력상 전날이 아니라 최소 trace 수를 만족한 agent의 바로 이전 행
type DriftDetector struct {
	reader TraceReader
	cfg    config.DriftConfig
	now    Clock
}

func NewDriftDetector(reader TraceReader, cfg config.DriftConfig, now Clock) *DriftDetector {
	return &DriftDetector{reader: reader, cfg: cfg, now: clockOrDefault(now)}
}

func (d *DriftDetector) Mechanism() model.DetectionMechanism {
	return model.MechanismTemporalDrift
}

func (d *DriftDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	now := d.now()
	rows, err := d.reader.DailyScores(ctx, now.Add(-d.cfg.Lookback), d.cfg.MinTracesPerDay)
	if err != nil {
		return nil, fmt.Errorf("query daily scores: %w", err)
	}
	return d.evaluate(rows), nil
}

func (d *DriftDetector) evaluate(rows []model.DailyScores) []model.AnomalyAlert {
	byAgent := make(map[string][]model.DailyScores)
	var agents []string
	for _, row := range rows {
		if row.TraceCount < d.cfg.MinTracesPerDay {
			continue
		}
		if _, seen := byAgent[row.AgentIDHash]; !seen {
			agents = append(agents, row.AgentIDHash)
		}
		byAgent[row.AgentIDHash] = append(byAgent[row.AgentIDHash], row)
	}

	var alerts []model.AnomalyAlert
	for _, agent := range agents {
		days := byAgent[agent]
		sort.SliceStable(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })

		for i := 1; i < len(days); i++ {
			prev, cur := days[i-1], days[i]
			coherenceChange := math.Abs(cur.AvgCoherence - prev.AvgCoherence)
			plausibilityChange := math.Abs(cur.AvgPlausibility - prev.AvgPlausibility)
			if coherenceChange <= d.cfg.WarningChange && plausibilityChange <= d.cfg.WarningChange {
				continue
			}

			metric, value, baseline, change := MetricCoherence, cur.AvgCoherence, prev.AvgCoherence, coherenceChange
			if plausibilityChange > coherenceChange {
				metric, value, baseline, change = MetricPlausibility, cur.AvgPlausibility, prev.AvgPlausibility, plausibilityChange
			}

			severity := model.SeverityWarning
			if change > d.cfg.CriticalChange {
				severity = model.SeverityCritical
			}

			alert := model.NewAnomalyAlert(
				severity,
				model.MechanismTemporalDrift,
				agent,
				nil,
				metric,
				value,
				baseline,
				fmt.Sprintf("%.1f%% daily change", change*100),
				cur.Day,
				cur.RecentTraceIDs,
			)
			alerts = append(alerts, withRecommendation(alert))
		}
	}
	return alerts
}
