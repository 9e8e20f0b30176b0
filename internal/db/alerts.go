package db

import (
	"context"
	"fmt"

	"github.com/agent-lens/backend/internal/model"
)

// EnsureAlertSchema - anomaly_alerts 테이블 생성
// 알림은 append-only, 확인(acknowledged_*) 컬럼만 갱신
func (db *Postgres) EnsureAlertSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS anomaly_alerts (
			alert_id TEXT PRIMARY KEY,
			severity TEXT NOT NULL,
			mechanism TEXT NOT NULL,
			agent_id_hash TEXT NOT NULL,
			domain TEXT,
			metric TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			baseline DOUBLE PRECISION NOT NULL,
			deviation TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			evidence_traces TEXT[] NOT NULL DEFAULT '{}',
			recommended_action TEXT NOT NULL DEFAULT '',
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
			acknowledged_by TEXT,
			acknowledged_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS anomaly_alerts_created_at_idx ON anomaly_alerts(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS anomaly_alerts_severity_idx ON anomaly_alerts(severity)`,
		`CREATE INDEX IF NOT EXISTS anomaly_alerts_agent_idx ON anomaly_alerts(agent_id_hash)`,
		`CREATE INDEX IF NOT EXISTS anomaly_alerts_unacked_idx ON anomaly_alerts(created_at DESC) WHERE acknowledged = FALSE`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure alert schema: %w", err)
		}
	}
	return nil
}

// InsertAlert - 알림 저장 (alert_id가 이미 있으면 아무것도 하지 않음)
// Returns: 새로 저장되었으면 true
func (db *Postgres) InsertAlert(ctx context.Context, alert model.AnomalyAlert) (bool, error) {
	evidence := alert.EvidenceTraces
	if evidence == nil {
		evidence = []string{}
	}

	query := `
		INSERT INTO anomaly_alerts (
			alert_id, severity, mechanism, agent_id_hash, domain, metric,
			value, baseline, deviation, timestamp, evidence_traces, recommended_action, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (alert_id) DO NOTHING
	`

	tag, err := db.Pool.Exec(ctx, query,
		alert.AlertID,
		string(alert.Severity),
		string(alert.Mechanism),
		alert.AgentIDHash,
		alert.Domain,
		alert.Metric,
		alert.Value,
		alert.Baseline,
		alert.Deviation,
		alert.Timestamp,
		evidence,
		alert.RecommendedAction,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert %s: %w", alert.AlertID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetRecentAlerts - 최근 N시간 내 생성된 알림 조회 (severity 선택, 최신순, limit)
func (db *Postgres) GetRecentAlerts(ctx context.Context, q model.AlertQuery) ([]model.AlertRecord, error) {
	q = q.Normalize()

	var severity *string
	if q.Severity != nil {
		s := string(*q.Severity)
		severity = &s
	}

	query := `
		SELECT
			alert_id, severity, mechanism, agent_id_hash, domain, metric,
			value, baseline, deviation, timestamp, evidence_traces, recommended_action,
			acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM anomaly_alerts
		WHERE created_at >= NOW() - make_interval(hours => $1)
			AND ($2::text IS NULL OR severity = $2)
		ORDER BY created_at DESC, timestamp DESC
		LIMIT $3`

	rows, err := db.Pool.Query(ctx, query, q.Hours, severity, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer rows.Close()

	var list []model.AlertRecord
	for rows.Next() {
		var r model.AlertRecord
		var sev, mechanism string
		if err := rows.Scan(
			&r.AlertID, &sev, &mechanism, &r.AgentIDHash, &r.Domain, &r.Metric,
			&r.Value, &r.Baseline, &r.Deviation, &r.Timestamp, &r.EvidenceTraces, &r.RecommendedAction,
			&r.Acknowledged, &r.AcknowledgedBy, &r.AcknowledgedAt, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		r.Severity = model.Severity(sev)
		r.Mechanism = model.DetectionMechanism(mechanism)
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	if list == nil {
		list = []model.AlertRecord{}
	}
	return list, nil
}

// AcknowledgeAlert - 검토 완료 표시
// Returns: alert_id에 해당하는 행이 있었으면 true
func (db *Postgres) AcknowledgeAlert(ctx context.Context, alertID, by string) (bool, error) {
	query := `
		UPDATE anomaly_alerts
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = NOW()
		WHERE alert_id = $1
	`
	tag, err := db.Pool.Exec(ctx, query, alertID, by)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	return tag.RowsAffected() > 0, nil
}
