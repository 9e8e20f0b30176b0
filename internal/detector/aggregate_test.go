package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertAt(severity model.Severity, ts time.Time, agent string) model.AnomalyAlert {
	return model.NewAnomalyAlert(severity, model.MechanismTemporalDrift, agent, nil, "m", 0, 0, "", ts, nil)
}

func TestSortAlerts(t *testing.T) {
	t1, t2, t3 := fixedNow, fixedNow.Add(time.Hour), fixedNow.Add(2*time.Hour)
	alerts := []model.AnomalyAlert{
		alertAt(model.SeverityWarning, t2, "w2"),
		alertAt(model.SeverityCritical, t1, "c1"),
		alertAt(model.SeverityCritical, t3, "c3"),
	}

	SortAlerts(alerts)

	got := []string{alerts[0].AgentIDHash, alerts[1].AgentIDHash, alerts[2].AgentIDHash}
	assert.Equal(t, []string{"c1", "c3", "w2"}, got)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	ok := &stubDetector{
		mechanism: model.MechanismTemporalDrift,
		alerts:    []model.AnomalyAlert{alertAt(model.SeverityWarning, fixedNow, "drift")},
	}
	failing := &stubDetector{mechanism: model.MechanismCrossAgentDivergence, err: errors.New("store unavailable")}
	panicking := &stubDetector{mechanism: model.MechanismHashChainVerification, panicMsg: "boom"}
	critical := &stubDetector{
		mechanism: model.MechanismConscienceOverride,
		alerts:    []model.AnomalyAlert{alertAt(model.SeverityCritical, fixedNow.Add(time.Hour), "override")},
	}

	registry, err := NewRegistry(ok, failing, panicking, critical)
	require.NoError(t, err)

	alerts := RunAll(context.Background(), registry)

	require.Len(t, alerts, 2)
	assert.Equal(t, "override", alerts[0].AgentIDHash)
	assert.Equal(t, "drift", alerts[1].AgentIDHash)
	for _, d := range []*stubDetector{ok, failing, panicking, critical} {
		assert.Equal(t, 1, d.calls, string(d.mechanism))
	}
}

func TestSafeDetectRecoversPanic(t *testing.T) {
	alerts, err := SafeDetect(context.Background(), &stubDetector{mechanism: model.MechanismTemporalDrift, panicMsg: "nil map"})

	assert.Nil(t, alerts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, model.MechanismTemporalDrift, panicErr.Mechanism)
}

func TestRegistry(t *testing.T) {
	t.Run("duplicate mechanism", func(t *testing.T) {
		_, err := NewRegistry(
			&stubDetector{mechanism: model.MechanismTemporalDrift},
			&stubDetector{mechanism: model.MechanismTemporalDrift},
		)
		assert.Error(t, err)
	})

	t.Run("unknown mechanism", func(t *testing.T) {
		_, err := NewRegistry(&stubDetector{mechanism: "sentiment"})
		assert.Error(t, err)
	})

	t.Run("default registry is exhaustive and ordered", func(t *testing.T) {
		r := NewDefaultRegistry(&fakeTraceReader{}, config.DefaultDetectionConfig(), fixedClock)
		require.Equal(t, len(model.AllMechanisms()), r.Len())
		for i, d := range r.Ordered() {
			assert.Equal(t, model.AllMechanisms()[i], d.Mechanism())
		}
	})
}
