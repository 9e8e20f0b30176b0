// trace 저장소 집계 쿼리
// trace 테이블의 schema/index는 외부 시스템 소유이며, 여기서는 읽기 전용 집계만 수행
//
// 참조 컬럼:
//   agent_id_hash, dsdma_domain, trace_type, csdma_plausibility_score, dsdma_domain_alignment,
//   coherence_level, selected_action, conscience_passed, action_was_overridden,
//   audit_sequence_number, audit_entry_hash, signature_verified, timestamp, trace_id

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

// recentTraceIDs - 최신순 trace_id 5개
const recentTraceIDs = `COALESCE((ARRAY_AGG(trace_id ORDER BY timestamp DESC))[1:5], ARRAY[]::text[])`

// AgentDomainScores - 서명 검증된 trace의 (agent, domain)별 점수 평균
func (db *Postgres) AgentDomainScores(ctx context.Context, since time.Time, minTraces int) ([]model.AgentDomainScores, error) {
	query := fmt.Sprintf(`
		SELECT
			agent_id_hash,
			dsdma_domain,
			COUNT(*) AS trace_count,
			AVG(csdma_plausibility_score)::float8,
			AVG(dsdma_domain_alignment)::float8,
			AVG(coherence_level)::float8,
			%s
		FROM %s
		WHERE timestamp >= $1
			AND signature_verified = TRUE
			AND dsdma_domain IS NOT NULL
			AND csdma_plausibility_score IS NOT NULL
			AND dsdma_domain_alignment IS NOT NULL
			AND coherence_level IS NOT NULL
		GROUP BY agent_id_hash, dsdma_domain
		HAVING COUNT(*) >= $2
		ORDER BY dsdma_domain, agent_id_hash`, recentTraceIDs, db.traceTable)

	rows, err := db.Pool.Query(ctx, query, since, minTraces)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent domain scores: %w", err)
	}
	defer rows.Close()

	var list []model.AgentDomainScores
	for rows.Next() {
		var s model.AgentDomainScores
		if err := rows.Scan(&s.AgentIDHash, &s.Domain, &s.TraceCount,
			&s.AvgPlausibility, &s.AvgAlignment, &s.AvgCoherence, &s.RecentTraceIDs); err != nil {
			return nil, fmt.Errorf("failed to scan agent domain scores: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ActionConsistency - (agent, trace_type)별 선택 행동 종류 수와 plausibility 표준편차
func (db *Postgres) ActionConsistency(ctx context.Context, since time.Time) ([]model.ActionConsistency, error) {
	query := fmt.Sprintf(`
		SELECT
			agent_id_hash,
			COALESCE(trace_type, '') AS trace_type,
			COUNT(*) AS trace_count,
			COUNT(DISTINCT selected_action) AS distinct_actions,
			COALESCE(STDDEV(csdma_plausibility_score), 0)::float8,
			%s
		FROM %s
		WHERE timestamp >= $1
			AND selected_action IS NOT NULL
		GROUP BY agent_id_hash, trace_type
		ORDER BY agent_id_hash, trace_type`, recentTraceIDs, db.traceTable)

	rows, err := db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query action consistency: %w", err)
	}
	defer rows.Close()

	var list []model.ActionConsistency
	for rows.Next() {
		var c model.ActionConsistency
		if err := rows.Scan(&c.AgentIDHash, &c.TraceType, &c.TraceCount,
			&c.DistinctActions, &c.PlausibilityStddev, &c.RecentTraceIDs); err != nil {
			return nil, fmt.Errorf("failed to scan action consistency: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// AuditChain - audit 시퀀스가 있는 trace를 agent, sequence 순으로 조회
func (db *Postgres) AuditChain(ctx context.Context, since time.Time) ([]model.ChainEntry, error) {
	query := fmt.Sprintf(`
		SELECT
			agent_id_hash,
			trace_id,
			audit_sequence_number,
			COALESCE(audit_entry_hash, ''),
			timestamp
		FROM %s
		WHERE timestamp >= $1
			AND audit_sequence_number IS NOT NULL
		ORDER BY agent_id_hash, audit_sequence_number`, db.traceTable)

	rows, err := db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit chain: %w", err)
	}
	defer rows.Close()

	var list []model.ChainEntry
	for rows.Next() {
		var e model.ChainEntry
		if err := rows.Scan(&e.AgentIDHash, &e.TraceID, &e.SequenceNumber, &e.EntryHash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit chain entry: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// DailyScores - agent별 UTC 일 단위 coherence/plausibility 평균 (최소 trace 수 이상인 날만)
func (db *Postgres) DailyScores(ctx context.Context, since time.Time, minTracesPerDay int) ([]model.DailyScores, error) {
	query := fmt.Sprintf(`
		SELECT
			agent_id_hash,
			DATE_TRUNC('day', timestamp AT TIME ZONE 'UTC') AT TIME ZONE 'UTC' AS day,
			COUNT(*) AS trace_count,
			AVG(coherence_level)::float8,
			AVG(csdma_plausibility_score)::float8,
			%s
		FROM %s
		WHERE timestamp >= $1
			AND coherence_level IS NOT NULL
			AND csdma_plausibility_score IS NOT NULL
		GROUP BY agent_id_hash, day
		HAVING COUNT(*) >= $2
		ORDER BY agent_id_hash, day`, recentTraceIDs, db.traceTable)

	rows, err := db.Pool.Query(ctx, query, since, minTracesPerDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily scores: %w", err)
	}
	defer rows.Close()

	var list []model.DailyScores
	for rows.Next() {
		var d model.DailyScores
		if err := rows.Scan(&d.AgentIDHash, &d.Day, &d.TraceCount,
			&d.AvgCoherence, &d.AvgPlausibility, &d.RecentTraceIDs); err != nil {
			return nil, fmt.Errorf("failed to scan daily scores: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// OverrideRates - (agent, domain)별 conscience override 횟수 (근거는 최근 override된 trace)
func (db *Postgres) OverrideRates(ctx context.Context, since time.Time, minTraces int) ([]model.OverrideRate, error) {
	query := fmt.Sprintf(`
		SELECT
			agent_id_hash,
			dsdma_domain,
			COUNT(*) AS trace_count,
			COUNT(*) FILTER (WHERE action_was_overridden = TRUE) AS override_count,
			COALESCE(
				(ARRAY_AGG(trace_id ORDER BY timestamp DESC) FILTER (WHERE action_was_overridden = TRUE))[1:5],
				ARRAY[]::text[]
			)
		FROM %s
		WHERE timestamp >= $1
			AND dsdma_domain IS NOT NULL
			AND conscience_passed IS NOT NULL
		GROUP BY agent_id_hash, dsdma_domain
		HAVING COUNT(*) >= $2
		ORDER BY dsdma_domain, agent_id_hash`, db.traceTable)

	rows, err := db.Pool.Query(ctx, query, since, minTraces)
	if err != nil {
		return nil, fmt.Errorf("failed to query override rates: %w", err)
	}
	defer rows.Close()

	var list []model.OverrideRate
	for rows.Next() {
		var o model.OverrideRate
		if err := rows.Scan(&o.AgentIDHash, &o.Domain, &o.TraceCount, &o.OverrideCount, &o.RecentTraceIDs); err != nil {
			return nil, fmt.Errorf("failed to scan override rate: %w", err)
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
