package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agent-lens/backend/internal/model"
	"github.com/rs/zerolog/log"
)

// AlertNotifier - 알림 1건 전달 (SlackClient, WebhookNotifier)
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error
}

// RepeatGuard - 같은 이상을 window 동안 한 번만 전달
//
// detector는 실행마다 새 alert_id를 만들기 때문에 lookback 안에 남아 있는 이상은
// 매 주기 다시 저장됨. 저장은 그대로 두고 전달만 억제
//
// 같은 이상 판정 키: mechanism, agent, domain, metric, severity
// (temporal_drift, hash_chain_verification은 이상 발생 시각도 포함)
type RepeatGuard struct {
	next   AlertNotifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewRepeatGuard(next AlertNotifier, window time.Duration) *RepeatGuard {
	return &RepeatGuard{
		next:   next,
		window: window,
		now:    time.Now,
		sent:   make(map[string]time.Time),
	}
}

// NotifyAlert - window 안에 이미 전달된 이상이면 건너뜀, 전달 실패 시 다음 주기에 재시도
func (g *RepeatGuard) NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error {
	key := repeatKey(alert)
	now := g.now()

	g.mu.Lock()
	for k, at := range g.sent {
		if now.Sub(at) >= g.window {
			delete(g.sent, k)
		}
	}
	_, seen := g.sent[key]
	g.mu.Unlock()

	if seen {
		log.Debug().Str("alert_id", alert.AlertID).Str("key", key).Msg("Suppressed repeated notification")
		return nil
	}
	if err := g.next.NotifyAlert(ctx, alert); err != nil {
		return err
	}

	g.mu.Lock()
	g.sent[key] = now
	g.mu.Unlock()
	return nil
}

func repeatKey(alert model.AnomalyAlert) string {
	parts := []string{
		string(alert.Mechanism),
		alert.AgentIDHash,
		alert.DomainValue(),
		alert.Metric,
		string(alert.Severity),
	}
	switch alert.Mechanism {
	case model.MechanismTemporalDrift, model.MechanismHashChainVerification:
		parts = append(parts, alert.Timestamp.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, "|")
}
