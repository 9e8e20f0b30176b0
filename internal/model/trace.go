// trace 레코드와 trace 저장소 집계 쿼리 결과 구조체
// trace 테이블 자체(schema, index)는 외부 시스템 소유이며, 여기서는 detector가 읽는 컬럼과 집계 결과만 정의

package model

import "time"

// Trace - agent의 결정 주기 1회 기록 (trace 테이블 한 행)
// 점수/행동 컬럼은 trace 종류에 따라 비어 있을 수 있어 포인터로 표현
type Trace struct {
	TraceID             string    `json:"trace_id" yaml:"trace_id"`
	AgentIDHash         string    `json:"agent_id_hash" yaml:"agent_id_hash"`
	Domain              *string   `json:"dsdma_domain,omitempty" yaml:"dsdma_domain,omitempty"`
	TraceType           string    `json:"trace_type,omitempty" yaml:"trace_type,omitempty"`
	Plausibility        *float64  `json:"csdma_plausibility_score,omitempty" yaml:"csdma_plausibility_score,omitempty"`
	Alignment           *float64  `json:"dsdma_domain_alignment,omitempty" yaml:"dsdma_domain_alignment,omitempty"`
	Coherence           *float64  `json:"coherence_level,omitempty" yaml:"coherence_level,omitempty"`
	SelectedAction      *string   `json:"selected_action,omitempty" yaml:"selected_action,omitempty"`
	ConsciencePassed    *bool     `json:"conscience_passed,omitempty" yaml:"conscience_passed,omitempty"`
	ActionWasOverridden bool      `json:"action_was_overridden" yaml:"action_was_overridden"`
	AuditSequenceNumber *int64    `json:"audit_sequence_number,omitempty" yaml:"audit_sequence_number,omitempty"`
	AuditEntryHash      *string   `json:"audit_entry_hash,omitempty" yaml:"audit_entry_hash,omitempty"`
	SignatureVerified   bool      `json:"signature_verified" yaml:"signature_verified"`
	Timestamp           time.Time `json:"timestamp" yaml:"timestamp"`
}

// ChainEntry - audit 시퀀스가 없으면 false
func (t Trace) ChainEntry() (ChainEntry, bool) {
	if t.AuditSequenceNumber == nil {
		return ChainEntry{}, false
	}
	e := ChainEntry{
		AgentIDHash:    t.AgentIDHash,
		TraceID:        t.TraceID,
		SequenceNumber: *t.AuditSequenceNumber,
		Timestamp:      t.Timestamp,
	}
	if t.AuditEntryHash != nil {
		e.EntryHash = *t.AuditEntryHash
	}
	return e, true
}

// AgentDomainScores - (agent, domain) 쌍별 점수 평균 (cross-agent divergence 입력)
type AgentDomainScores struct {
	AgentIDHash     string
	Domain          string
	TraceCount      int
	AvgPlausibility float64 // csdma_plausibility_score 평균
	AvgAlignment    float64 // dsdma_domain_alignment 평균
	AvgCoherence    float64 // coherence_level 평균
	RecentTraceIDs  []string
}

// ActionConsistency - (agent, trace_type) 쌍별 선택 행동 분산 (intra-agent consistency 입력)
type ActionConsistency struct {
	AgentIDHash        string
	TraceType          string
	TraceCount         int
	DistinctActions    int
	PlausibilityStddev float64
	RecentTraceIDs     []string
}

// DailyScores - agent별 일 단위 점수 평균 (temporal drift 입력)
type DailyScores struct {
	AgentIDHash     string
	Day             time.Time
	TraceCount      int
	AvgCoherence    float64
	AvgPlausibility float64
	RecentTraceIDs  []string
}

// ChainEntry - audit 시퀀스가 있는 trace 한 건 (hash chain 검증 입력)
type ChainEntry struct {
	AgentIDHash    string    `json:"agent_id_hash" yaml:"agent_id_hash"`
	TraceID        string    `json:"trace_id" yaml:"trace_id"`
	SequenceNumber int64     `json:"audit_sequence_number" yaml:"audit_sequence_number"`
	EntryHash      string    `json:"audit_entry_hash,omitempty" yaml:"audit_entry_hash,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// OverrideRate - (agent, domain) 쌍별 conscience override 횟수 (conscience override 입력)
type OverrideRate struct {
	AgentIDHash    string
	Domain         string
	TraceCount     int
	OverrideCount  int
	RecentTraceIDs []string
}

// Rate - override 비율, trace가 없으면 0
func (o OverrideRate) Rate() float64 {
	if o.TraceCount <= 0 {
		return 0
	}
	return float64(o.OverrideCount) / float64(o.TraceCount)
}
