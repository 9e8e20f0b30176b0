package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agent-lens/backend/internal/model"
)

// EnsureWebhookSchema - webhook_configs 테이블 생성 (없으면)
// 설정 CRUD는 API 레이어 담당, 여기서는 조회만 수행
func (db *Postgres) EnsureWebhookSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_configs (
			id           SERIAL       PRIMARY KEY,
			url          TEXT         NOT NULL DEFAULT '',
			method       TEXT         NOT NULL DEFAULT 'POST',
			headers      JSONB        NOT NULL DEFAULT '[]',
			body         TEXT         NOT NULL DEFAULT '',
			min_severity TEXT         NOT NULL DEFAULT 'CRITICAL',
			updated_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create webhook_configs table: %w", err)
	}
	return nil
}

// GetWebhookConfigs - 웹훅 설정 전체 목록 조회 (최신순)
func (db *Postgres) GetWebhookConfigs(ctx context.Context) ([]model.WebhookConfig, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, url, method, headers, body, min_severity, updated_at
		FROM webhook_configs
		ORDER BY updated_at DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook configs: %w", err)
	}
	defer rows.Close()

	var configs []model.WebhookConfig
	for rows.Next() {
		var cfg model.WebhookConfig
		var headersJSON []byte
		var minSeverity string
		if err := rows.Scan(&cfg.ID, &cfg.URL, &cfg.Method, &headersJSON, &cfg.Body, &minSeverity, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook config: %w", err)
		}
		if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
		cfg.MinSeverity = model.Severity(minSeverity)
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read webhook configs: %w", err)
	}
	if configs == nil {
		configs = []model.WebhookConfig{}
	}
	return configs, nil
}
