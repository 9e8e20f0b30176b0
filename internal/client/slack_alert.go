// Slack 이상 탐지 알림 메시지 관련 메서드 정의

package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

// NotifyAlert - 이상 탐지 알림을 Slack으로 전송
//
// CRITICAL만 전송 (WARNING은 nil 반환)
// 같은 agent의 알림은 첫 메시지의 스레드에 답글로 전송
func (c *SlackClient) NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error {
	if alert.Severity != model.SeverityCritical {
		return nil
	}
	if !c.IsConfigured() {
		return fmt.Errorf("slack bot token or channel ID not configured")
	}

	msg := SlackMessage{
		Channel:     c.channelID,
		Attachments: []SlackAttachment{buildAlertAttachment(alert)},
	}
	if ts, ok := c.threadTS(alert.AgentIDHash); ok {
		msg.ThreadTS = ts
	}

	resp, err := c.send(ctx, msg)
	if err != nil {
		return err
	}
	if msg.ThreadTS == "" && resp.TS != "" {
		c.storeThreadTS(alert.AgentIDHash, resp.TS)
	}
	return nil
}

func buildAlertAttachment(alert model.AnomalyAlert) SlackAttachment {
	title := fmt.Sprintf("%s [%s] %s", severityEmoji(alert.Severity), alert.Severity, alert.Mechanism)

	fields := []SlackField{
		{Title: "Agent", Value: alert.AgentIDHash, Short: true},
		{Title: "Metric", Value: alert.Metric, Short: true},
		{Title: "Value", Value: strconv.FormatFloat(alert.Value, 'f', 3, 64), Short: true},
		{Title: "Baseline", Value: strconv.FormatFloat(alert.Baseline, 'f', 3, 64), Short: true},
		{Title: "Deviation", Value: alert.Deviation, Short: true},
		{Title: "Observed", Value: alert.Timestamp.UTC().Format(time.RFC3339), Short: true},
	}
	if alert.Domain != nil {
		fields = append(fields, SlackField{Title: "Domain", Value: *alert.Domain, Short: true})
	}
	if len(alert.EvidenceTraces) > 0 {
		fields = append(fields, SlackField{Title: "Evidence", Value: "`" + strings.Join(alert.EvidenceTraces, "`, `") + "`"})
	}

	return SlackAttachment{
		Color:  severityColor(alert.Severity),
		Title:  title,
		Text:   alert.RecommendedAction,
		Fields: fields,
		Footer: "agent-lens · " + alert.AlertID,
		Ts:     time.Now().Unix(),
	}
}

// Severity에 따른 메시지 색상 반환
func severityColor(severity model.Severity) string {
	switch severity {
	case model.SeverityCritical:
		return "#dc3545" // red
	case model.SeverityWarning:
		return "#ffc107" // yellow
	default:
		return "#17a2b8" // blue
	}
}

func severityEmoji(severity model.Severity) string {
	if severity == model.SeverityCritical {
		return "🔥"
	}
	return "⚠️"
}
