// Hash chain 검증
//
// VerifyHashChain은 저장소 없이 메모리의 trace 목록만으로 동작하는 순수 함수
// (오프라인 검증, 테스트, CLI verify-chain에서 그대로 사용)
// HashChainDetector는 최근 lookback 구간의 audit 기록을 agent별로 나눠 같은 함수를 적용

package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/model"
)

// MetricHashChainIntegrity - hash chain 알림의 metric 이름
const MetricHashChainIntegrity = "hash_chain_integrity"

// VerifyHashChain - audit_sequence_number 오름차순으로 정렬 후 인접 쌍이 +1로 이어지지 않으면 sequence_gap 보고
// 입력 슬라이스는 변경하지 않으며 어느 goroutine에서 호출해도 안전
func VerifyHashChain(entries []model.ChainEntry) []model.HashChainBreak {
	if len(entries) < 2 {
		return nil
	}

	sorted := make([]model.ChainEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})

	var breaks []model.HashChainBreak
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		expected := prev.SequenceNumber + 1
		if next.SequenceNumber == expected {
			continue
		}
		breaks = append(breaks, model.HashChainBreak{
			BreakType:   model.BreakSequenceGap,
			TraceID:     next.TraceID,
			ExpectedSeq: expected,
			ActualSeq:   next.SequenceNumber,
		})
	}
	return breaks
}

// HashChainDetector 구조체 정의
type HashChainDetector struct {
	reader TraceReader
	cfg    config.HashChainConfig
	now    Clock
}

func NewHashChainDetector(reader TraceReader, cfg config.HashChainConfig, now Clock) *HashChainDetector {
	return &HashChainDetector{reader: reader, cfg: cfg, now: clockOrDefault(now)}
}

func (d *HashChainDetector) Mechanism() model.DetectionMechanism {
	return model.MechanismHashChainVerification
}

func (d *HashChainDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	now := d.now()
	entries, err := d.reader.AuditChain(ctx, now.Add(-d.cfg.Lookback))
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	return d.evaluate(entries, now), nil
}

func (d *HashChainDetector) evaluate(entries []model.ChainEntry, now time.Time) []model.AnomalyAlert {
	byAgent := make(map[string][]model.ChainEntry)
	var agents []string
	for _, e := range entries {
		if _, seen := byAgent[e.AgentIDHash]; !seen {
			agents = append(agents, e.AgentIDHash)
		}
		byAgent[e.AgentIDHash] = append(byAgent[e.AgentIDHash], e)
	}

	var alerts []model.AnomalyAlert
	for _, agent := range agents {
		chain := byAgent[agent]
		breaks := VerifyHashChain(chain)
		if len(breaks) == 0 {
			continue
		}

		timestamps := make(map[string]time.Time, len(chain))
		for _, e := range chain {
			timestamps[e.TraceID] = e.Timestamp
		}

		// 가장 최근 단절부터 근거로 사용
		evidence := make([]string, 0, len(breaks))
		for i := len(breaks) - 1; i >= 0; i-- {
			evidence = append(evidence, breaks[i].TraceID)
		}

		occurredAt := now
		if ts, ok := timestamps[breaks[len(breaks)-1].TraceID]; ok && !ts.IsZero() {
			occurredAt = ts
		}

		alert := model.NewAnomalyAlert(
			model.SeverityCritical,
			model.MechanismHashChainVerification,
			agent,
			nil,
			MetricHashChainIntegrity,
			float64(len(breaks)),
			0,
			breakCountLabel(len(breaks)),
			occurredAt,
			evidence,
		)
		alerts = append(alerts, withRecommendation(alert))
	}
	return alerts
}

func breakCountLabel(n int) string {
	if n == 1 {
		return "1 break"
	}
	return fmt.Sprintf("%d breaks", n)
}
