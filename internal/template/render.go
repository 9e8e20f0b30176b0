// Package template provides webhook body template rendering.
//
// 지원하는 변수 형식:
//
//	{{alert.id}}, {{alert.severity}}, {{alert.mechanism}}, {{alert.agent_id_hash}},
//	{{alert.domain}}, {{alert.metric}}, {{alert.value}}, {{alert.baseline}},
//	{{alert.deviation}}, {{alert.timestamp}}, {{alert.evidence}}, {{alert.recommended_action}}
package template

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

// AlertData - 템플릿 렌더링에 사용할 알림 데이터 (모두 문자열로 변환된 값)
type AlertData struct {
	ID                string
	Severity          string
	Mechanism         string
	AgentIDHash       string
	Domain            string
	Metric            string
	Value             string
	Baseline          string
	Deviation         string
	Timestamp         string
	Evidence          string
	RecommendedAction string
}

// AlertDataFromModel - model.AnomalyAlert에서 AlertData 생성
func AlertDataFromModel(alert model.AnomalyAlert) AlertData {
	return AlertData{
		ID:                alert.AlertID,
		Severity:          string(alert.Severity),
		Mechanism:         string(alert.Mechanism),
		AgentIDHash:       alert.AgentIDHash,
		Domain:            alert.DomainValue(),
		Metric:            alert.Metric,
		Value:             strconv.FormatFloat(alert.Value, 'f', -1, 64),
		Baseline:          strconv.FormatFloat(alert.Baseline, 'f', -1, 64),
		Deviation:         alert.Deviation,
		Timestamp:         alert.Timestamp.UTC().Format(time.RFC3339),
		Evidence:          strings.Join(alert.EvidenceTraces, ","),
		RecommendedAction: alert.RecommendedAction,
	}
}

// RenderBody - webhook body 템플릿의 변수를 실제 값으로 치환
// alert가 nil이면 모든 변수를 빈 문자열로 치환
func RenderBody(body string, alert *AlertData) string {
	var a AlertData
	if alert != nil {
		a = *alert
	}
	return replacer(a).Replace(body)
}

// RenderJSONBody - RenderBody와 같지만 값을 JSON 문자열 이스케이프 후 치환
// 템플릿의 "{{alert.x}}" 자리에 따옴표, 역슬래시, 개행이 들어가도 JSON이 깨지지 않음
func RenderJSONBody(body string, alert *AlertData) string {
	var a AlertData
	if alert != nil {
		a = *alert
	}
	return replacer(a.escaped()).Replace(body)
}

func (a AlertData) escaped() AlertData {
	return AlertData{
		ID:                jsonEscape(a.ID),
		Severity:          jsonEscape(a.Severity),
		Mechanism:         jsonEscape(a.Mechanism),
		AgentIDHash:       jsonEscape(a.AgentIDHash),
		Domain:            jsonEscape(a.Domain),
		Metric:            jsonEscape(a.Metric),
		Value:             jsonEscape(a.Value),
		Baseline:          jsonEscape(a.Baseline),
		Deviation:         jsonEscape(a.Deviation),
		Timestamp:         jsonEscape(a.Timestamp),
		Evidence:          jsonEscape(a.Evidence),
		RecommendedAction: jsonEscape(a.RecommendedAction),
	}
}

// jsonEscape - JSON 문자열 리터럴에서 바깥 따옴표를 뗀 값
func jsonEscape(s string) string {
	raw, err := json.Marshal(s)
	if err != nil || len(raw) < 2 {
		return s
	}
	return string(raw[1 : len(raw)-1])
}

func replacer(a AlertData) *strings.Replacer {
	return strings.NewReplacer(
		"{{alert.id}}", a.ID,
		"{{alert.severity}}", a.Severity,
		"{{alert.mechanism}}", a.Mechanism,
		"{{alert.agent_id_hash}}", a.AgentIDHash,
		"{{alert.domain}}", a.Domain,
		"{{alert.metric}}", a.Metric,
		"{{alert.value}}", a.Value,
		"{{alert.baseline}}", a.Baseline,
		"{{alert.deviation}}", a.Deviation,
		"{{alert.timestamp}}", a.Timestamp,
		"{{alert.evidence}}", a.Evidence,
		"{{alert.recommended_action}}", a.RecommendedAction,
	)
}
