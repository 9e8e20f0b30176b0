package detector

import (
	"context"
	"testing"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyThresholds(t *testing.T) {
	tests := []struct {
		name     string
		distinct int
		stddev   float64
		want     model.Severity // "" = 알림 없음
	}{
		{name: "stable agent", distinct: 1, stddev: 0.05},
		{name: "many actions low variance", distinct: 5, stddev: 0.1},
		{name: "two actions high variance", distinct: 2, stddev: 0.4},
		{name: "stddev at threshold", distinct: 3, stddev: 0.15},
		{name: "warning", distinct: 3, stddev: 0.18, want: model.SeverityWarning},
		{name: "three actions high variance stays warning", distinct: 3, stddev: 0.3, want: model.SeverityWarning},
		{name: "many actions mid variance stays warning", distinct: 4, stddev: 0.19, want: model.SeverityWarning},
		{name: "critical", distinct: 4, stddev: 0.25, want: model.SeverityCritical},
	}

	d := NewConsistencyDetector(&fakeTraceReader{}, config.DefaultDetectionConfig().Consistency, fixedClock)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := []model.ActionConsistency{{
				AgentIDHash:        "agent-a",
				TraceType:          "decision",
				TraceCount:         40,
				DistinctActions:    tt.distinct,
				PlausibilityStddev: tt.stddev,
				RecentTraceIDs:     traceIDs("a", 3),
			}}
			alerts := d.evaluate(rows, fixedNow)
			if tt.want == "" {
				assert.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.want, alerts[0].Severity)
			assert.Nil(t, alerts[0].Domain)
			assert.Equal(t, MetricDecisionConsistency, alerts[0].Metric)
			assert.Equal(t, tt.stddev, alerts[0].Value)
			assert.Equal(t, []string{"a-0", "a-1", "a-2"}, alerts[0].EvidenceTraces)
		})
	}
}

func TestConsistencyDetectLookback(t *testing.T) {
	reader := &fakeTraceReader{consistency: []model.ActionConsistency{
		{AgentIDHash: "x", TraceType: "t", DistinctActions: 6, PlausibilityStddev: 0.3},
		{AgentIDHash: "y", TraceType: "t", DistinctActions: 1, PlausibilityStddev: 0.3},
	}}
	d := NewConsistencyDetector(reader, config.DefaultDetectionConfig().Consistency, fixedClock)

	alerts, err := d.Detect(context.Background())

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "x", alerts[0].AgentIDHash)
	assert.Equal(t, fixedNow.AddDate(0, 0, -30), reader.lastSince)
}
