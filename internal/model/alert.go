// 이상 탐지 알림(AnomalyAlert)과 해시 체인 단절(HashChainBreak) 구조체를 정의
// detector, scheduler, db, client 레이어에서 공통으로 사용하기 때문에 model 레이어에 별도로 정의

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxEvidenceTraces - 알림 하나에 첨부하는 근거 trace 최대 개수
const MaxEvidenceTraces = 5

// Severity - 알림 심각도 (WARNING, CRITICAL 두 가지만 존재)
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid - 정의된 심각도인지 확인
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// ParseSeverity - 대소문자 구분 없이 문자열을 Severity로 변환
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// DetectionMechanism - 알림을 만든 detector 종류
type DetectionMechanism string

const (
	MechanismCrossAgentDivergence  DetectionMechanism = "cross_agent_divergence"
	MechanismIntraAgentConsistency DetectionMechanism = "intra_agent_consistency"
	MechanismHashChainVerification DetectionMechanism = "hash_chain_verification"
	MechanismTemporalDrift         DetectionMechanism = "temporal_drift"
	MechanismConscienceOverride    DetectionMechanism = "conscience_override"
)

// AllMechanisms - 전체 detector 종류 (scheduler 실행 순서와 동일)
func AllMechanisms() []DetectionMechanism {
	return []DetectionMechanism{
		MechanismCrossAgentDivergence,
		MechanismIntraAgentConsistency,
		MechanismHashChainVerification,
		MechanismTemporalDrift,
		MechanismConscienceOverride,
	}
}

// Valid - 정의된 detector 종류인지 확인
func (m DetectionMechanism) Valid() bool {
	for _, known := range AllMechanisms() {
		if m == known {
			return true
		}
	}
	return false
}

// AnomalyAlert - detector가 생성하는 이상 탐지 알림
// 생성 이후에는 변경하지 않음 (확인(acknowledge) 상태는 AlertRecord에서 관리)
type AnomalyAlert struct {
	// AlertID: 탐지 시점에 생성되는 UUID, 저장 시 멱등성 키로 사용
	AlertID   string             `json:"alert_id" yaml:"alert_id"`
	Severity  Severity           `json:"severity" yaml:"severity"`
	Mechanism DetectionMechanism `json:"mechanism" yaml:"mechanism"`

	// AgentIDHash: 이미 익명화된 agent 식별자 (원본 identity는 절대 저장하지 않음)
	AgentIDHash string `json:"agent_id_hash" yaml:"agent_id_hash"`

	// Domain: 모집단 계층화 키, agent 단독 검사(일관성, 해시 체인, drift)에서는 nil
	Domain *string `json:"domain,omitempty" yaml:"domain,omitempty"`

	Metric    string  `json:"metric" yaml:"metric"`
	Value     float64 `json:"value" yaml:"value"`
	Baseline  float64 `json:"baseline" yaml:"baseline"`
	Deviation string  `json:"deviation" yaml:"deviation"` // 예: "2.4σ", "3 breaks", "18.0% daily change"

	// Timestamp: 이상 현상이 발생한 시각 (temporal drift는 drift가 발생한 날짜)
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// EvidenceTraces: 최신순 근거 trace ID (최대 5개)
	EvidenceTraces    []string `json:"evidence_traces" yaml:"evidence_traces"`
	RecommendedAction string   `json:"recommended_action" yaml:"recommended_action"`
}

// NewAnomalyAlert - 새 UUID를 부여하고 근거 trace를 최대 5개로 잘라서 알림 생성
func NewAnomalyAlert(
	severity Severity,
	mechanism DetectionMechanism,
	agentIDHash string,
	domain *string,
	metric string,
	value, baseline float64,
	deviation string,
	timestamp time.Time,
	evidence []string,
) AnomalyAlert {
	return AnomalyAlert{
		AlertID:        uuid.NewString(),
		Severity:       severity,
		Mechanism:      mechanism,
		AgentIDHash:    agentIDHash,
		Domain:         domain,
		Metric:         metric,
		Value:          value,
		Baseline:       baseline,
		Deviation:      deviation,
		Timestamp:      timestamp,
		EvidenceTraces: TruncateEvidence(evidence),
	}
}

// TruncateEvidence - 근거 trace 목록을 복사하여 최대 MaxEvidenceTraces개만 남김
func TruncateEvidence(evidence []string) []string {
	n := len(evidence)
	if n > MaxEvidenceTraces {
		n = MaxEvidenceTraces
	}
	out := make([]string, n)
	copy(out, evidence[:n])
	return out
}

// DomainValue - nil-safe 도메인 조회
func (a AnomalyAlert) DomainValue() string {
	if a.Domain == nil {
		return ""
	}
	return *a.Domain
}

// AlertRecord - 저장된 알림 + 검토(acknowledge) 상태
type AlertRecord struct {
	AnomalyAlert

	Acknowledged   bool       `json:"acknowledged" yaml:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" yaml:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" yaml:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
}

const (
	DefaultAlertQueryHours = 24
	DefaultAlertQueryLimit = 100
	MaxAlertQueryLimit     = 1000
)

// AlertQuery - get_recent_alerts 조회 조건
type AlertQuery struct {
	Hours    int
	Severity *Severity
	Limit    int
}

// Normalize - 비어있거나 범위를 벗어난 값을 기본값으로 보정
func (q AlertQuery) Normalize() AlertQuery {
	if q.Hours <= 0 {
		q.Hours = DefaultAlertQueryHours
	}
	if q.Limit <= 0 {
		q.Limit = DefaultAlertQueryLimit
	}
	if q.Limit > MaxAlertQueryLimit {
		q.Limit = MaxAlertQueryLimit
	}
	return q
}

// BreakType - 해시 체인 단절 유형
type BreakType string

const (
	// BreakSequenceGap: audit_sequence_number가 1씩 증가하지 않음
	BreakSequenceGap BreakType = "sequence_gap"
	// BreakHashMismatch: 서명된 원본 payload 없이는 검증 불가, 모델에만 존재하고 생성하지 않음
	BreakHashMismatch BreakType = "hash_mismatch"
)

// HashChainBreak - 해시 체인 검증 결과 (직접 저장하지 않고 AnomalyAlert로만 노출)
type HashChainBreak struct {
	BreakType    BreakType `json:"break_type" yaml:"break_type"`
	TraceID      string    `json:"trace_id" yaml:"trace_id"`
	ExpectedSeq  int64     `json:"expected_seq" yaml:"expected_seq"`
	ActualSeq    int64     `json:"actual_seq" yaml:"actual_seq"`
	ExpectedHash *string   `json:"expected_hash,omitempty" yaml:"expected_hash,omitempty"`
	ActualHash   *string   `json:"actual_hash,omitempty" yaml:"actual_hash,omitempty"`
}
