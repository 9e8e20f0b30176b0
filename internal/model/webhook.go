package model

import "time"

// WebhookHeader - 헤더 키-값 쌍
type WebhookHeader struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WebhookConfig - 알림을 전달할 외부 webhook 설정
// Body는 template 변수({{alert.severity}} 등)를 포함할 수 있으며 비어 있으면 알림 JSON 전체를 전송
type WebhookConfig struct {
	ID          int             `json:"id"`
	URL         string          `json:"url"`
	Method      string          `json:"method"`
	Headers     []WebhookHeader `json:"headers"`
	Body        string          `json:"body"`
	MinSeverity Severity        `json:"min_severity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Accepts - 설정된 최소 심각도 이상인지 확인 (비어 있으면 CRITICAL만)
func (c WebhookConfig) Accepts(s Severity) bool {
	floor, err := ParseSeverity(string(c.MinSeverity))
	if err == nil && floor == SeverityWarning {
		return s.Valid()
	}
	return s == SeverityCritical
}
