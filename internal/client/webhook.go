package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/agent-lens/backend/internal/model"
	tmpl "github.com/agent-lens/backend/internal/template"
	"github.com/rs/zerolog/log"
)

// WebhookConfigReader - webhook 설정 조회 (delivery 전용)
type WebhookConfigReader interface {
	GetWebhookConfigs(ctx context.Context) ([]model.WebhookConfig, error)
}

// StaticWebhookConfigs - 환경변수 등 고정 설정용 reader
type StaticWebhookConfigs []model.WebhookConfig

func (s StaticWebhookConfigs) GetWebhookConfigs(context.Context) ([]model.WebhookConfig, error) {
	return s, nil
}

// WebhookNotifier - 사용자 설정 webhook으로 알림을 전송
type WebhookNotifier struct {
	configs    WebhookConfigReader
	httpClient *http.Client
}

func NewWebhookNotifier(configs WebhookConfigReader) *WebhookNotifier {
	return &WebhookNotifier{
		configs: configs,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyAlert - 저장된 모든 webhook config에 렌더링된 body를 HTTP로 전송
//
// Slack 전송과 독립적으로 동작
// 개별 config 실패 시 로그를 남기고 나머지는 계속 전송, 실패 목록은 합쳐서 반환
func (n *WebhookNotifier) NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error {
	configs, err := n.configs.GetWebhookConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load webhook configs: %w", err)
	}

	data := tmpl.AlertDataFromModel(alert)

	var errs []error
	for _, cfg := range configs {
		if cfg.URL == "" || !cfg.Accepts(alert.Severity) {
			continue
		}

		body, err := renderWebhookBody(cfg, alert, &data)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := n.sendHTTP(ctx, cfg, body); err != nil {
			log.Warn().Err(err).Int("config_id", cfg.ID).Str("url", cfg.URL).Msg("Failed to deliver webhook")
			errs = append(errs, fmt.Errorf("webhook %d: %w", cfg.ID, err))
			continue
		}
		log.Debug().Int("config_id", cfg.ID).Str("alert_id", alert.AlertID).Msg("Delivered webhook")
	}
	return errors.Join(errs...)
}

// body 템플릿이 없으면 알림 JSON 그대로 전송
func renderWebhookBody(cfg model.WebhookConfig, alert model.AnomalyAlert, data *tmpl.AlertData) (string, error) {
	if cfg.Body == "" {
		raw, err := json.Marshal(alert)
		if err != nil {
			return "", fmt.Errorf("failed to marshal alert: %w", err)
		}
		return string(raw), nil
	}
	if isJSONContent(contentType(cfg)) {
		return tmpl.RenderJSONBody(cfg.Body, data), nil
	}
	return tmpl.RenderBody(cfg.Body, data), nil
}

// contentType - 설정 헤더의 Content-Type (없으면 application/json)
func contentType(cfg model.WebhookConfig) string {
	for _, h := range cfg.Headers {
		if h.Key != "" && http.CanonicalHeaderKey(h.Key) == "Content-Type" {
			return h.Value
		}
	}
	return "application/json"
}

func isJSONContent(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// sendHTTP - 단일 webhook config로 HTTP 요청 전송
func (n *WebhookNotifier) sendHTTP(ctx context.Context, cfg model.WebhookConfig, body string) error {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewBufferString(body))
	if err != nil {
		return err
	}

	for _, h := range cfg.Headers {
		if h.Key == "" {
			continue
		}
		req.Header.Set(h.Key, h.Value)
	}
	req.Header.Set("Content-Type", contentType(cfg))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
