package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

// MemoryAlertStore - Postgres 없이 실행할 때 사용하는 프로세스 내 알림 저장소
// InsertAlert/GetRecentAlerts/AcknowledgeAlert 계약은 Postgres와 동일
type MemoryAlertStore struct {
	mu      sync.RWMutex
	records map[string]*model.AlertRecord
	order   []string
	now     func() time.Time
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		records: make(map[string]*model.AlertRecord),
		now:     time.Now,
	}
}

// InsertAlert - alert_id가 이미 있으면 무시
func (s *MemoryAlertStore) InsertAlert(_ context.Context, alert model.AnomalyAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[alert.AlertID]; exists {
		return false, nil
	}
	alert.EvidenceTraces = model.TruncateEvidence(alert.EvidenceTraces)
	s.records[alert.AlertID] = &model.AlertRecord{
		AnomalyAlert: alert,
		CreatedAt:    s.now(),
	}
	s.order = append(s.order, alert.AlertID)
	return true, nil
}

func (s *MemoryAlertStore) GetRecentAlerts(_ context.Context, q model.AlertQuery) ([]model.AlertRecord, error) {
	q = q.Normalize()
	cutoff := s.now().Add(-time.Duration(q.Hours) * time.Hour)

	s.mu.RLock()
	list := make([]model.AlertRecord, 0, len(s.order))
	for _, id := range s.order {
		r := s.records[id]
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		if q.Severity != nil && r.Severity != *q.Severity {
			continue
		}
		list = append(list, copyRecord(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if len(list) > q.Limit {
		list = list[:q.Limit]
	}
	return list, nil
}

func (s *MemoryAlertStore) AcknowledgeAlert(_ context.Context, alertID, by string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[alertID]
	if !ok {
		return false, nil
	}
	at := s.now()
	reviewer := by
	r.Acknowledged = true
	r.AcknowledgedBy = &reviewer
	r.AcknowledgedAt = &at
	return true, nil
}

// Ping - 항상 사용 가능
func (s *MemoryAlertStore) Ping(context.Context) error {
	return nil
}

// Len - 저장된 알림 수
func (s *MemoryAlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(r *model.AlertRecord) model.AlertRecord {
	out := *r
	out.EvidenceTraces = append([]string(nil), r.EvidenceTraces...)
	return out
}
