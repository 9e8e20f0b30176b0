// 이상 탐지 job scheduler
//
// 처리 흐름:
//  1. Start()가 단일 loop goroutine 실행 (tick 주기, 기본 60초)
//  2. tick마다 job을 AllMechanisms 순서로 순차 검사 (never run 또는 now-last_run >= interval이면 DUE)
//  3. DUE job은 RUNNING으로 전환 후 detector 실행, 알림을 insert-or-ignore로 저장
//  4. 성공/실패와 관계없이 last_run = now 기록 후 IDLE
//  5. Stop()은 loop를 취소하고 종료될 때까지 대기
//
// 참고:
// - 다중 인스턴스 간 분산 lock은 없음 (중복 read 허용, write는 alert_id 기준 멱등)
// - 새로 저장된 알림은 Notifier(Slack, webhook)마다 전달, 심각도 필터는 각 Notifier가 담당
// - 전달 실패는 로그만 남김

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/detector"
	"github.com/agent-lens/backend/internal/model"
	"github.com/agent-lens/backend/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// AlertStore - 알림 저장소 (Postgres 또는 메모리)
type AlertStore interface {
	InsertAlert(ctx context.Context, alert model.AnomalyAlert) (bool, error)
	GetRecentAlerts(ctx context.Context, q model.AlertQuery) ([]model.AlertRecord, error)
	AcknowledgeAlert(ctx context.Context, alertID, by string) (bool, error)
}

// Notifier - 새로 저장된 알림 전달 (받을 심각도는 구현체가 결정)
type Notifier interface {
	NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error
}

// JobStatus - ops 조회용 job 상태 snapshot
type JobStatus struct {
	Name     model.DetectionMechanism `json:"name"`
	Interval time.Duration            `json:"interval"`
	LastRun  *time.Time               `json:"last_run,omitempty"`
	State    JobState                 `json:"state"`
}

type job struct {
	detector detector.Detector
	interval time.Duration
}

type Scheduler struct {
	registry  *detector.Registry
	jobs      []job
	store     AlertStore
	state     JobStateStore
	notifiers []Notifier
	tick      time.Duration
	now       func() time.Time
	tracer    trace.Tracer

	mu     sync.Mutex
	states map[model.DetectionMechanism]JobState
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

// WithJobState - last_run 저장소 교체 (기본: MemoryJobState)
func WithJobState(state JobStateStore) Option {
	return func(s *Scheduler) { s.state = state }
}

// WithNotifier - 새 알림 전달 대상 추가 (여러 번 호출 가능)
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifiers = append(s.notifiers, n) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Intervals - SchedulerConfig를 mechanism별 실행 간격으로 변환
func Intervals(cfg config.SchedulerConfig) map[model.DetectionMechanism]time.Duration {
	return map[model.DetectionMechanism]time.Duration{
		model.MechanismCrossAgentDivergence:  cfg.DivergenceInterval,
		model.MechanismIntraAgentConsistency: cfg.ConsistencyInterval,
		model.MechanismHashChainVerification: cfg.HashChainInterval,
		model.MechanismTemporalDrift:         cfg.TemporalDriftInterval,
		model.MechanismConscienceOverride:    cfg.OverrideInterval,
	}
}

func New(registry *detector.Registry, store AlertStore, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		store:    store,
		state:    NewMemoryJobState(),
		tick:     cfg.Tick,
		now:      time.Now,
		tracer:   telemetry.Tracer(),
		states:   make(map[model.DetectionMechanism]JobState),
	}
	if s.tick <= 0 {
		s.tick = time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}

	intervals := Intervals(cfg)
	for _, d := range registry.Ordered() {
		s.jobs = append(s.jobs, job{detector: d, interval: intervals[d.Mechanism()]})
		s.states[d.Mechanism()] = JobIdle
	}
	return s
}

// Start - scheduler loop 시작
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	log.Info().Dur("tick", s.tick).Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop - loop 취소 후 종료 대기 (실행 중이 아니면 no-op)
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Scheduler stopped")
}

// Running - loop 실행 여부
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.runDue(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx, s.now())
		}
	}
}

// release - 부모 context 취소로 loop가 끝나면 실행 상태 해제 (Stop 없이도 재시작 가능)
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done {
		return
	}
	s.cancel()
	s.cancel, s.done = nil, nil
	log.Info().Msg("Scheduler loop exited")
}

// runDue - now 기준으로 DUE인 job을 순차 실행
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		name := j.detector.Mechanism()
		if !s.isDue(name, j.interval, now) {
			continue
		}

		s.setState(name, JobDue)
		s.setState(name, JobRunning)
		s.runJob(ctx, j)
		s.state.Set(name, now)
		s.setState(name, JobIdle)
	}
}

func (s *Scheduler) isDue(name model.DetectionMechanism, interval time.Duration, now time.Time) bool {
	last, ok := s.state.Get(name)
	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}

// runJob - detector 1회 실행 + 저장 (에러/panic은 로그만 남김)
func (s *Scheduler) runJob(ctx context.Context, j job) {
	name := j.detector.Mechanism()
	ctx, span := s.tracer.Start(ctx, "scheduler.job",
		trace.WithAttributes(attribute.String("mechanism", string(name))))
	defer span.End()

	start := time.Now()
	alerts, err := detector.SafeDetect(ctx, j.detector)
	elapsed := time.Since(start)
	if err != nil {
		result := telemetry.ResultError
		var panicErr *detector.PanicError
		if errors.As(err, &panicErr) {
			result = telemetry.ResultPanic
			log.Error().Err(err).Str("job", string(name)).Msg("Detector panicked")
		} else {
			log.Warn().Err(err).Str("job", string(name)).Msg("Detector failed, skipping until next interval")
		}
		telemetry.ObserveDetectorRun(name, result, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	telemetry.ObserveDetectorRun(name, telemetry.ResultOK, elapsed)
	telemetry.ObserveAlerts(alerts)
	span.SetAttributes(attribute.Int("alerts", len(alerts)))

	inserted := s.persist(ctx, alerts)
	log.Info().
		Str("job", string(name)).
		Int("alerts", len(alerts)).
		Int("inserted", inserted).
		Dur("elapsed", elapsed).
		Msg("Detector job finished")
}

// RunAllNow - 스케줄과 무관하게 모든 detector 실행 후 저장 (last_run은 변경하지 않음)
func (s *Scheduler) RunAllNow(ctx context.Context) []model.AnomalyAlert {
	ctx, span := s.tracer.Start(ctx, "scheduler.run_all_now")
	defer span.End()

	alerts := detector.RunAll(ctx, s.registry)
	telemetry.ObserveAlerts(alerts)
	inserted := s.persist(ctx, alerts)
	span.SetAttributes(attribute.Int("alerts", len(alerts)), attribute.Int("inserted", inserted))

	log.Info().Int("alerts", len(alerts)).Int("inserted", inserted).Msg("Ran all detectors")
	if alerts == nil {
		alerts = []model.AnomalyAlert{}
	}
	return alerts
}

// persist - 알림을 하나씩 독립적으로 저장
// Returns: 새로 저장된 알림 수
func (s *Scheduler) persist(ctx context.Context, alerts []model.AnomalyAlert) int {
	inserted := 0
	for _, alert := range alerts {
		ok, err := s.store.InsertAlert(ctx, alert)
		if err != nil {
			telemetry.ObservePersist(telemetry.PersistFailed)
			log.Warn().Err(err).
				Str("alert_id", alert.AlertID).
				Str("mechanism", string(alert.Mechanism)).
				Str("agent_id_hash", alert.AgentIDHash).
				Msg("Failed to persist alert")
			continue
		}
		if !ok {
			telemetry.ObservePersist(telemetry.PersistDuplicate)
			continue
		}
		telemetry.ObservePersist(telemetry.PersistInserted)
		inserted++

		s.notify(ctx, alert)
	}
	return inserted
}

func (s *Scheduler) notify(ctx context.Context, alert model.AnomalyAlert) {
	for _, n := range s.notifiers {
		if err := n.NotifyAlert(ctx, alert); err != nil {
			log.Warn().Err(err).Str("alert_id", alert.AlertID).Str("severity", string(alert.Severity)).Msg("Failed to notify alert")
		}
	}
}

// GetRecentAlerts - 최근 알림 조회 (read-only)
func (s *Scheduler) GetRecentAlerts(ctx context.Context, hours int, severity *model.Severity, limit int) ([]model.AlertRecord, error) {
	return s.store.GetRecentAlerts(ctx, model.AlertQuery{Hours: hours, Severity: severity, Limit: limit})
}

// AcknowledgeAlert - 알림 검토 완료 표시, 해당 alert_id가 있었는지 반환
func (s *Scheduler) AcknowledgeAlert(ctx context.Context, alertID, by string) (bool, error) {
	return s.store.AcknowledgeAlert(ctx, alertID, by)
}

// Jobs - job 상태 snapshot
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		name := j.detector.Mechanism()
		status := JobStatus{Name: name, Interval: j.interval, State: s.states[name]}
		if last, ok := s.state.Get(name); ok {
			status.LastRun = &last
		}
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) setState(name model.DetectionMechanism, state JobState) {
	s.mu.Lock()
	s.states[name] = state
	s.mu.Unlock()
}
