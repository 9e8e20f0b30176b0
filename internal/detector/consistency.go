package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// MetricDecisionConsistency - intra-agent consistency 알림의 metric 이름
const MetricDecisionConsistency = "decision_consistency"

// ConsistencyDetector - 같은 trace_type에서 선택 행동이 흩어지고 plausibility가 불안정한 agent 탐지
type ConsistencyDetector struct {
	reader TraceReader
	cfg    config.ConsistencyConfig
	now    Clock
}

func NewConsistencyDetector(reader TraceReader, cfg config.ConsistencyConfig, now Clock) *ConsistencyDetector {
	return &ConsistencyDetector{reader: reader, cfg: cfg, now: clockOrDefault(now)}
}

func (d *ConsistencyDetector) Mechanism() model.DetectionMechanism {
	return model.MechanismIntraAgentConsistency
}

func (d *ConsistencyDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	now := d.now()
	rows, err := d.reader.ActionConsistency(ctx, now.Add(-d.cfg.Lookback))
	if err != nil {
		return nil, fmt.Errorf("query action consistency: %w", err)
	}
	return d.evaluate(rows, now), nil
}

func (d *ConsistencyDetector) evaluate(rows []model.ActionConsistency, now time.Time) []model.AnomalyAlert {
	var alerts []model.AnomalyAlert
	for _, row := range rows {
		if row.DistinctActions <= d.cfg.WarningDistinctActions || row.PlausibilityStddev <= d.cfg.WarningStddev {
			continue
		}
		severity := model.SeverityWarning
		if row.DistinctActions > d.cfg.CriticalDistinctActions && row.PlausibilityStddev > d.cfg.CriticalStddev {
			severity = model.SeverityCritical
		}
		alert := model.NewAnomalyAlert(
			severity,
			model.MechanismIntraAgentConsistency,
			row.AgentIDHash,
			nil,
			MetricDecisionConsistency,
			row.PlausibilityStddev,
			d.cfg.WarningStddev,
			fmt.Sprintf("%d distinct actions for %s, σ=%.2f", row.DistinctActions, row.TraceType, row.PlausibilityStddev),
			now,
			row.RecentTraceIDs,
		)
		alerts = append(alerts, withRecommendation(alert))
	}
	return alerts
}
