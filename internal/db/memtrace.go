// 메모리 trace 저장소
// trace 파일을 읽어 Postgres 집계 쿼리(traces.go)와 같은 결과를 Go에서 계산
// DB 없이 detect/serve를 실행하거나 detector를 end-to-end로 검증할 때 사용

package db

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

type MemoryTraceStore struct {
	traces []model.Trace
}

func NewMemoryTraceStore(traces []model.Trace) *MemoryTraceStore {
	// 최신순 정렬 (근거 trace는 항상 최신 5개)
	sorted := make([]model.Trace, len(traces))
	copy(sorted, traces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	return &MemoryTraceStore{traces: sorted}
}

func (s *MemoryTraceStore) Ping(context.Context) error {
	return nil
}

type pairKey struct {
	agent string
	group string
}

// traceGroup - 그룹 키 첫 등장 순서를 유지하는 집계 버킷
type traceGroup struct {
	key    pairKey
	traces []model.Trace
}

func groupTraces(traces []model.Trace, keep func(model.Trace) (pairKey, bool)) []*traceGroup {
	index := map[pairKey]*traceGroup{}
	var groups []*traceGroup
	for _, t := range traces {
		key, ok := keep(t)
		if !ok {
			continue
		}
		g, exists := index[key]
		if !exists {
			g = &traceGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.traces = append(g.traces, t)
	}
	return groups
}

func recentIDs(traces []model.Trace, keep func(model.Trace) bool) []string {
	ids := []string{}
	for _, t := range traces {
		if len(ids) == model.MaxEvidenceTraces {
			break
		}
		if keep == nil || keep(t) {
			ids = append(ids, t.TraceID)
		}
	}
	return ids
}

func (s *MemoryTraceStore) AgentDomainScores(_ context.Context, since time.Time, minTraces int) ([]model.AgentDomainScores, error) {
	groups := groupTraces(s.traces, func(t model.Trace) (pairKey, bool) {
		if t.Timestamp.Before(since) || !t.SignatureVerified || t.Domain == nil ||
			t.Plausibility == nil || t.Alignment == nil || t.Coherence == nil {
			return pairKey{}, false
		}
		return pairKey{agent: t.AgentIDHash, group: *t.Domain}, true
	})

	var list []model.AgentDomainScores
	for _, g := range groups {
		if len(g.traces) < minTraces {
			continue
		}
		var p, a, c float64
		for _, t := range g.traces {
			p += *t.Plausibility
			a += *t.Alignment
			c += *t.Coherence
		}
		n := float64(len(g.traces))
		list = append(list, model.AgentDomainScores{
			AgentIDHash:     g.key.agent,
			Domain:          g.key.group,
			TraceCount:      len(g.traces),
			AvgPlausibility: p / n,
			AvgAlignment:    a / n,
			AvgCoherence:    c / n,
			RecentTraceIDs:  recentIDs(g.traces, nil),
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Domain != list[j].Domain {
			return list[i].Domain < list[j].Domain
		}
		return list[i].AgentIDHash < list[j].AgentIDHash
	})
	return list, nil
}

func (s *MemoryTraceStore) ActionConsistency(_ context.Context, since time.Time) ([]model.ActionConsistency, error) {
	groups := groupTraces(s.traces, func(t model.Trace) (pairKey, bool) {
		if t.Timestamp.Before(since) || t.SelectedAction == nil {
			return pairKey{}, false
		}
		return pairKey{agent: t.AgentIDHash, group: t.TraceType}, true
	})

	var list []model.ActionConsistency
	for _, g := range groups {
		actions := map[string]struct{}{}
		var scores []float64
		for _, t := range g.traces {
			actions[*t.SelectedAction] = struct{}{}
			if t.Plausibility != nil {
				scores = append(scores, *t.Plausibility)
			}
		}
		list = append(list, model.ActionConsistency{
			AgentIDHash:        g.key.agent,
			TraceType:          g.key.group,
			TraceCount:         len(g.traces),
			DistinctActions:    len(actions),
			PlausibilityStddev: sampleStddev(scores),
			RecentTraceIDs:     recentIDs(g.traces, nil),
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].AgentIDHash != list[j].AgentIDHash {
			return list[i].AgentIDHash < list[j].AgentIDHash
		}
		return list[i].TraceType < list[j].TraceType
	})
	return list, nil
}

func (s *MemoryTraceStore) AuditChain(_ context.Context, since time.Time) ([]model.ChainEntry, error) {
	var entries []model.ChainEntry
	for _, t := range s.traces {
		if t.Timestamp.Before(since) {
			continue
		}
		if e, ok := t.ChainEntry(); ok {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AgentIDHash != entries[j].AgentIDHash {
			return entries[i].AgentIDHash < entries[j].AgentIDHash
		}
		return entries[i].SequenceNumber < entries[j].SequenceNumber
	})
	return entries, nil
}

func (s *MemoryTraceStore) DailyScores(_ context.Context, since time.Time, minTracesPerDay int) ([]model.DailyScores, error) {
	groups := groupTraces(s.traces, func(t model.Trace) (pairKey, bool) {
		if t.Timestamp.Before(since) || t.Coherence == nil || t.Plausibility == nil {
			return pairKey{}, false
		}
		return pairKey{agent: t.AgentIDHash, group: utcDay(t.Timestamp).Format(time.RFC3339)}, true
	})

	var list []model.DailyScores
	for _, g := range groups {
		if len(g.traces) < minTracesPerDay {
			continue
		}
		var c, p float64
		for _, t := range g.traces {
			c += *t.Coherence
			p += *t.Plausibility
		}
		n := float64(len(g.traces))
		list = append(list, model.DailyScores{
			AgentIDHash:     g.key.agent,
			Day:             utcDay(g.traces[0].Timestamp),
			TraceCount:      len(g.traces),
			AvgCoherence:    c / n,
			AvgPlausibility: p / n,
			RecentTraceIDs:  recentIDs(g.traces, nil),
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].AgentIDHash != list[j].AgentIDHash {
			return list[i].AgentIDHash < list[j].AgentIDHash
		}
		return list[i].Day.Before(list[j].Day)
	})
	return list, nil
}

func (s *MemoryTraceStore) OverrideRates(_ context.Context, since time.Time, minTraces int) ([]model.OverrideRate, error) {
	groups := groupTraces(s.traces, func(t model.Trace) (pairKey, bool) {
		if t.Timestamp.Before(since) || t.Domain == nil || t.ConsciencePassed == nil {
			return pairKey{}, false
		}
		return pairKey{agent: t.AgentIDHash, group: *t.Domain}, true
	})

	overridden := func(t model.Trace) bool { return t.ActionWasOverridden }

	var list []model.OverrideRate
	for _, g := range groups {
		if len(g.traces) < minTraces {
			continue
		}
		count := 0
		for _, t := range g.traces {
			if overridden(t) {
				count++
			}
		}
		list = append(list, model.OverrideRate{
			AgentIDHash:    g.key.agent,
			Domain:         g.key.group,
			TraceCount:     len(g.traces),
			OverrideCount:  count,
			RecentTraceIDs: recentIDs(g.traces, overridden),
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Domain != list[j].Domain {
			return list[i].Domain < list[j].Domain
		}
		return list[i].AgentIDHash < list[j].AgentIDHash
	})
	return list, nil
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sampleStddev - SQL STDDEV와 같은 표본 표준편차 (2개 미만이면 0)
func sampleStddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
