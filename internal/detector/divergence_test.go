package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// population - 같은 domain의 agent n명 (모두 0.8), outlier 한 명만 plausibility가 다름
func population(domain string, n int, outlierPlausibility float64) []model.AgentDomainScores {
	rows := make([]model.AgentDomainScores, 0, n)
	for i := 0; i < n; i++ {
		plausibility := 0.8
		if i == 0 {
			plausibility = outlierPlausibility
		}
		agent := fmt.Sprintf("agent-%02d", i)
		rows = append(rows, model.AgentDomainScores{
			AgentIDHash:     agent,
			Domain:          domain,
			TraceCount:      25,
			AvgPlausibility: plausibility,
			AvgAlignment:    0.9,
			AvgCoherence:    0.85,
			RecentTraceIDs:  traceIDs(agent, 7),
		})
	}
	return rows
}

func newDivergence(reader TraceReader) *DivergenceDetector {
	return NewDivergenceDetector(reader, config.DefaultDetectionConfig().Divergence, fixedClock)
}

func TestDivergenceZeroVarianceNoAlerts(t *testing.T) {
	reader := &fakeTraceReader{scores: population("medical", 10, 0.8)}

	alerts, err := newDivergence(reader).Detect(context.Background())

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDivergenceWarning(t *testing.T) {
	// 10명 중 1명 0.2: mean=0.74, sample sd≈0.190, z≈2.85
	reader := &fakeTraceReader{scores: population("medical", 10, 0.2)}

	alerts, err := newDivergence(reader).Detect(context.Background())

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.SeverityWarning, a.Severity)
	assert.Equal(t, model.MechanismCrossAgentDivergence, a.Mechanism)
	assert.Equal(t, "agent-00", a.AgentIDHash)
	require.NotNil(t, a.Domain)
	assert.Equal(t, "medical", *a.Domain)
	assert.Equal(t, MetricPlausibility, a.Metric)
	assert.InDelta(t, 0.2, a.Value, 1e-9)
	assert.InDelta(t, 0.74, a.Baseline, 1e-9)
	assert.Equal(t, "2.8σ", a.Deviation)
	assert.Equal(t, fixedNow, a.Timestamp)
	assert.Len(t, a.EvidenceTraces, model.MaxEvidenceTraces)
	assert.NotEmpty(t, a.AlertID)
	assert.NotEmpty(t, a.RecommendedAction)
}

func TestDivergenceCritical(t *testing.T) {
	// 20명 중 1명 0.2: z≈4.25
	reader := &fakeTraceReader{scores: population("finance", 20, 0.2)}

	alerts, err := newDivergence(reader).Detect(context.Background())

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "4.2σ", alerts[0].Deviation)
}

func TestDivergenceOneAlertPerMetric(t *testing.T) {
	rows := population("legal", 10, 0.2)
	rows[0].AvgCoherence = 0.25

	alerts := newDivergence(&fakeTraceReader{}).evaluate(rows, fixedNow)

	require.Len(t, alerts, 2)
	metrics := []string{alerts[0].Metric, alerts[1].Metric}
	assert.ElementsMatch(t, []string{MetricPlausibility, MetricCoherence}, metrics)
	assert.NotEqual(t, alerts[0].AlertID, alerts[1].AlertID)
}

func TestDivergenceThresholdFilters(t *testing.T) {
	t.Run("below min traces", func(t *testing.T) {
		rows := population("medical", 10, 0.2)
		rows[0].TraceCount = 9
		alerts := newDivergence(&fakeTraceReader{}).evaluate(rows, fixedNow)
		for _, a := range alerts {
			assert.NotEqual(t, "agent-00", a.AgentIDHash)
		}
	})

	t.Run("below min agents", func(t *testing.T) {
		cfg := config.DefaultDetectionConfig().Divergence
		cfg.ZScoreWarning = 0.5
		d := NewDivergenceDetector(&fakeTraceReader{}, cfg, fixedClock)
		alerts := d.evaluate(population("tiny", 2, 0.1), fixedNow)
		assert.Empty(t, alerts)
	})

	t.Run("domains evaluated separately", func(t *testing.T) {
		rows := append(population("medical", 10, 0.8), population("finance", 2, 0.1)...)
		alerts := newDivergence(&fakeTraceReader{}).evaluate(rows, fixedNow)
		assert.Empty(t, alerts)
	})
}

func TestDivergenceQueryWindow(t *testing.T) {
	reader := &fakeTraceReader{}
	_, err := newDivergence(reader).Detect(context.Background())

	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-config.DefaultDetectionConfig().Divergence.Lookback), reader.lastSince)
	assert.Equal(t, 10, reader.lastMin)
}

func TestDivergenceStoreError(t *testing.T) {
	reader := &fakeTraceReader{err: errors.New("connection refused")}

	alerts, err := newDivergence(reader).Detect(context.Background())

	assert.Error(t, err)
	assert.Nil(t, alerts)
}
