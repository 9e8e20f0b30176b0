package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agent-lens/backend/internal/client"
	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainTraces(agent string, seqs ...int64) []model.Trace {
	base := time.Now().Add(-time.Hour).UTC()
	traces := make([]model.Trace, 0, len(seqs))
	for i, seq := range seqs {
		seq := seq
		traces = append(traces, model.Trace{
			TraceID:             fmt.Sprintf("%s-%d", agent, seq),
			AgentIDHash:         agent,
			AuditSequenceNumber: &seq,
			Timestamp:           base.Add(time.Duration(i) * time.Minute),
		})
	}
	return traces
}

func writeTraceFile(t *testing.T, traces []model.Trace) string {
	t.Helper()
	data, err := json.Marshal(traces)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "traces.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVerifyChains(t *testing.T) {
	t.Run("intact", func(t *testing.T) {
		var buf bytes.Buffer
		err := verifyChains(&buf, chainTraces("agent-a", 1, 2, 3, 4, 5))
		require.NoError(t, err)
		assert.Equal(t, "agent-a: OK (5 entries)\n", buf.String())
	})

	t.Run("gap", func(t *testing.T) {
		traces := append(chainTraces("agent-b", 1, 2, 3, 5, 6), chainTraces("agent-a", 1, 2)...)
		var buf bytes.Buffer
		err := verifyChains(&buf, traces)
		require.ErrorIs(t, err, errChainBroken)
		assert.Equal(t,
			"agent-a: OK (2 entries)\n"+
				"agent-b: 1 break(s)\n"+
				"  sequence_gap at agent-b-5: expected seq 4, got 5\n",
			buf.String())
	})
}

func TestVerifyChainCommand(t *testing.T) {
	path := writeTraceFile(t, chainTraces("agent-a", 1, 2, 4))

	cmd := newRootCmd(config.Load())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"verify-chain", path})

	err := cmd.Execute()
	require.ErrorIs(t, err, errChainBroken)
	assert.Contains(t, out.String(), "expected seq 3, got 4")
}

func TestDetectCommandFromTraceFile(t *testing.T) {
	path := writeTraceFile(t, chainTraces("agent-a", 1, 2, 3, 5, 6))

	cmd := newRootCmd(config.Load())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"detect", "--traces", path, "-o", "json"})

	require.NoError(t, cmd.Execute())

	var alerts []model.AnomalyAlert
	require.NoError(t, json.Unmarshal(out.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, model.MechanismHashChainVerification, alerts[0].Mechanism)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, []string{"agent-a-5"}, alerts[0].EvidenceTraces)
}

func TestWriteAlertsTable(t *testing.T) {
	domain := "finance"
	alerts := []model.AnomalyAlert{
		model.NewAnomalyAlert(model.SeverityWarning, model.MechanismConscienceOverride, "agent-a", &domain,
			"conscience_override_rate", 0.25, 0.1, "2.5x", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), nil),
	}

	var buf bytes.Buffer
	require.NoError(t, writeAlerts(&buf, alerts, "table"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "SEVERITY"))
	assert.Contains(t, lines[1], "conscience_override")
	assert.Contains(t, lines[1], "finance")
	assert.Contains(t, lines[1], "2.5x")
	assert.Contains(t, lines[1], "2026-03-14T00:00:00Z")
}

func TestWebhookConfigs(t *testing.T) {
	stored := client.StaticWebhookConfigs{{ID: 7, URL: "http://stored.local"}}

	t.Run("env url wins", func(t *testing.T) {
		got := webhookConfigs(config.WebhookConfig{URL: "http://env.local", Method: "PUT", MinSeverity: "warning"}, stored)
		configs, err := got.GetWebhookConfigs(context.Background())
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, "http://env.local", configs[0].URL)
		assert.Equal(t, "PUT", configs[0].Method)
		assert.Equal(t, model.SeverityWarning, configs[0].MinSeverity)
		assert.True(t, configs[0].Accepts(model.SeverityWarning))
	})

	t.Run("falls back to stored configs", func(t *testing.T) {
		assert.Equal(t, client.WebhookConfigReader(stored), webhookConfigs(config.WebhookConfig{}, stored))
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.Nil(t, webhookConfigs(config.WebhookConfig{}, nil))
	})
}

func TestGuardRepeats(t *testing.T) {
	slack := client.NewSlackClient(config.SlackConfig{})

	assert.Same(t, slack, guardRepeats(slack, config.NotifyConfig{}))
	_, guarded := guardRepeats(slack, config.NotifyConfig{RepeatWindow: time.Hour}).(*client.RepeatGuard)
	assert.True(t, guarded)
}

func TestVerifyChainIgnoresInvalidConfig(t *testing.T) {
	path := writeTraceFile(t, chainTraces("agent-a", 1, 2, 3))
	cfg := config.Load()
	cfg.Scheduler.Tick = 0

	t.Run("verify-chain runs", func(t *testing.T) {
		cmd := newRootCmd(cfg)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"verify-chain", path})

		require.NoError(t, cmd.Execute())
	})

	t.Run("detect is rejected", func(t *testing.T) {
		cmd := newRootCmd(cfg)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"detect", "--traces", path})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
