package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

type fakeTraceReader struct {
	scores      []model.AgentDomainScores
	consistency []model.ActionConsistency
	chain       []model.ChainEntry
	daily       []model.DailyScores
	overrides   []model.OverrideRate
	err         error

	lastSince time.Time
	lastMin   int
}

func (f *fakeTraceReader) AgentDomainScores(ctx context.Context, since time.Time, minTraces int) ([]model.AgentDomainScores, error) {
	f.lastSince, f.lastMin = since, minTraces
	return f.scores, f.err
}

func (f *fakeTraceReader) ActionConsistency(ctx context.Context, since time.Time) ([]model.ActionConsistency, error) {
	f.lastSince = since
	return f.consistency, f.err
}

func (f *fakeTraceReader) AuditChain(ctx context.Context, since time.Time) ([]model.ChainEntry, error) {
	f.lastSince = since
	return f.chain, f.err
}

func (f *fakeTraceReader) DailyScores(ctx context.Context, since time.Time, minTracesPerDay int) ([]model.DailyScores, error) {
	f.lastSince, f.lastMin = since, minTracesPerDay
	return f.daily, f.err
}

func (f *fakeTraceReader) OverrideRates(ctx context.Context, since time.Time, minTraces int) ([]model.OverrideRate, error) {
	f.lastSince, f.lastMin = since, minTraces
	return f.overrides, f.err
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func traceIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return ids
}

// stubDetector - aggregator 테스트용 고정 결과 detector
type stubDetector struct {
	mechanism model.DetectionMechanism
	alerts    []model.AnomalyAlert
	err       error
	panicMsg  string
	calls     int
}

func (s *stubDetector) Mechanism() model.DetectionMechanism { return s.mechanism }

func (s *stubDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	s.calls++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.alerts, s.err
}
