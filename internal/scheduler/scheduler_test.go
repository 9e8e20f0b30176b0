package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agent-lens/backend/internal/client"
	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/db"
	"github.com/agent-lens/backend/internal/detector"
	"github.com/agent-lens/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

type stubDetector struct {
	mechanism model.DetectionMechanism
	alerts    []model.AnomalyAlert
	err       error
	panicMsg  string
	calls     atomic.Int32
}

func (s *stubDetector) Mechanism() model.DetectionMechanism { return s.mechanism }

func (s *stubDetector) Detect(ctx context.Context) ([]model.AnomalyAlert, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.alerts, s.err
}

// failingStore - 지정한 alert_id 저장 시 에러 반환
type failingStore struct {
	*db.MemoryAlertStore
	failIDs map[string]bool
}

func (f *failingStore) InsertAlert(ctx context.Context, alert model.AnomalyAlert) (bool, error) {
	if f.failIDs[alert.AlertID] {
		return false, errors.New("connection reset")
	}
	return f.MemoryAlertStore.InsertAlert(ctx, alert)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.AnomalyAlert
	err    error
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, alert model.AnomalyAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func testAlert(severity model.Severity, mechanism model.DetectionMechanism) model.AnomalyAlert {
	return model.NewAnomalyAlert(severity, mechanism, "agent-"+string(severity), nil, "m", 1, 0, "", t0, []string{"t1"})
}

func newTestScheduler(t *testing.T, store AlertStore, detectors ...detector.Detector) (*Scheduler, *MemoryJobState) {
	t.Helper()
	registry, err := detector.NewRegistry(detectors...)
	require.NoError(t, err)
	state := NewMemoryJobState()
	return New(registry, store, config.DefaultSchedulerConfig(), WithJobState(state)), state
}

func TestRunDueRespectsInterval(t *testing.T) {
	drift := &stubDetector{mechanism: model.MechanismTemporalDrift}
	hash := &stubDetector{mechanism: model.MechanismHashChainVerification}
	s, state := newTestScheduler(t, db.NewMemoryAlertStore(), drift, hash)
	ctx := context.Background()

	s.runDue(ctx, t0)
	assert.Equal(t, int32(1), drift.calls.Load())
	assert.Equal(t, int32(1), hash.calls.Load())

	// 1분 tick, drift interval 24h / hash chain interval 1h
	for now := t0.Add(time.Minute); now.Before(t0.Add(24 * time.Hour)); now = now.Add(time.Minute) {
		s.runDue(ctx, now)
	}
	assert.Equal(t, int32(1), drift.calls.Load(), "must not run before t0+interval")
	assert.Equal(t, int32(24), hash.calls.Load())

	s.runDue(ctx, t0.Add(24*time.Hour))
	assert.Equal(t, int32(2), drift.calls.Load())

	last, ok := state.Get(model.MechanismTemporalDrift)
	require.True(t, ok)
	assert.Equal(t, t0.Add(24*time.Hour), last)
}

func TestRunDueIsolatesFailures(t *testing.T) {
	failing := &stubDetector{mechanism: model.MechanismCrossAgentDivergence, err: errors.New("store unavailable")}
	panicking := &stubDetector{mechanism: model.MechanismIntraAgentConsistency, panicMsg: "boom"}
	ok := &stubDetector{
		mechanism: model.MechanismConscienceOverride,
		alerts:    []model.AnomalyAlert{testAlert(model.SeverityWarning, model.MechanismConscienceOverride)},
	}
	store := db.NewMemoryAlertStore()
	s, state := newTestScheduler(t, store, failing, panicking, ok)
	ctx := context.Background()

	s.runDue(ctx, t0)

	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, 1, store.Len())
	for _, m := range []model.DetectionMechanism{
		model.MechanismCrossAgentDivergence,
		model.MechanismIntraAgentConsistency,
		model.MechanismConscienceOverride,
	} {
		last, found := state.Get(m)
		require.True(t, found, string(m))
		assert.Equal(t, t0, last, string(m))
	}

	// 실패한 job도 다음 interval까지 재시도하지 않음
	s.runDue(ctx, t0.Add(time.Minute))
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), panicking.calls.Load())

	for _, status := range s.Jobs() {
		assert.Equal(t, JobIdle, status.State)
	}
}

func TestRunAllNowDoesNotTouchLastRun(t *testing.T) {
	critical := testAlert(model.SeverityCritical, model.MechanismHashChainVerification)
	warning := testAlert(model.SeverityWarning, model.MechanismTemporalDrift)
	hash := &stubDetector{mechanism: model.MechanismHashChainVerification, alerts: []model.AnomalyAlert{critical}}
	drift := &stubDetector{mechanism: model.MechanismTemporalDrift, alerts: []model.AnomalyAlert{warning}}
	store := db.NewMemoryAlertStore()
	notifier := &recordingNotifier{}

	registry, err := detector.NewRegistry(hash, drift)
	require.NoError(t, err)
	state := NewMemoryJobState()
	s := New(registry, store, config.DefaultSchedulerConfig(), WithJobState(state), WithNotifier(notifier))
	ctx := context.Background()

	alerts := s.RunAllNow(ctx)
	require.Len(t, alerts, 2)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 2, store.Len())

	for _, m := range model.AllMechanisms() {
		_, found := state.Get(m)
		assert.False(t, found, string(m))
	}

	// 같은 alert_id 재저장은 무시되고 알림도 다시 보내지 않음
	s.RunAllNow(ctx)
	assert.Equal(t, 2, store.Len())
	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, critical.AlertID, notifier.alerts[0].AlertID)
	assert.Equal(t, warning.AlertID, notifier.alerts[1].AlertID)
}

func TestPersistContinuesAfterFailure(t *testing.T) {
	first := testAlert(model.SeverityCritical, model.MechanismConscienceOverride)
	second := testAlert(model.SeverityCritical, model.MechanismConscienceOverride)
	third := testAlert(model.SeverityWarning, model.MechanismConscienceOverride)

	store := &failingStore{
		MemoryAlertStore: db.NewMemoryAlertStore(),
		failIDs:          map[string]bool{first.AlertID: true},
	}
	notifier := &recordingNotifier{err: errors.New("slack down")}
	registry, err := detector.NewRegistry(&stubDetector{mechanism: model.MechanismConscienceOverride})
	require.NoError(t, err)
	s := New(registry, store, config.DefaultSchedulerConfig(), WithNotifier(notifier))

	inserted := s.persist(context.Background(), []model.AnomalyAlert{first, second, third})

	assert.Equal(t, 2, inserted)
	assert.Equal(t, 2, store.Len())
	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, second.AlertID, notifier.alerts[0].AlertID)
	assert.Equal(t, third.AlertID, notifier.alerts[1].AlertID)
}

func TestPersistNotifiesEveryNotifier(t *testing.T) {
	critical := testAlert(model.SeverityCritical, model.MechanismHashChainVerification)
	broken := &recordingNotifier{err: errors.New("webhook 500")}
	slack := &recordingNotifier{}
	registry, err := detector.NewRegistry(&stubDetector{mechanism: model.MechanismHashChainVerification})
	require.NoError(t, err)
	s := New(registry, db.NewMemoryAlertStore(), config.DefaultSchedulerConfig(),
		WithNotifier(broken), WithNotifier(slack))

	assert.Equal(t, 1, s.persist(context.Background(), []model.AnomalyAlert{critical}))
	assert.Len(t, broken.alerts, 1)
	assert.Len(t, slack.alerts, 1, "a failing notifier must not block the next one")
}

func TestPersistDeliversWarningsToOptedInWebhook(t *testing.T) {
	var mu sync.Mutex
	var severities []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		severities = append(severities, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	warning := testAlert(model.SeverityWarning, model.MechanismTemporalDrift)
	critical := testAlert(model.SeverityCritical, model.MechanismHashChainVerification)
	registry, err := detector.NewRegistry(&stubDetector{mechanism: model.MechanismTemporalDrift})
	require.NoError(t, err)

	webhook := client.NewWebhookNotifier(client.StaticWebhookConfigs{
		{ID: 1, URL: srv.URL, Body: "{{alert.severity}}", MinSeverity: model.SeverityWarning},
	})
	slack := client.NewSlackClient(config.SlackConfig{})
	s := New(registry, db.NewMemoryAlertStore(), config.DefaultSchedulerConfig(),
		WithNotifier(slack), WithNotifier(webhook))

	assert.Equal(t, 2, s.persist(context.Background(), []model.AnomalyAlert{warning, critical}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"WARNING", "CRITICAL"}, severities)
}

func TestStartStop(t *testing.T) {
	hash := &stubDetector{mechanism: model.MechanismHashChainVerification}
	registry, err := detector.NewRegistry(hash)
	require.NoError(t, err)
	cfg := config.DefaultSchedulerConfig()
	cfg.Tick = 5 * time.Millisecond
	cfg.HashChainInterval = time.Millisecond
	s := New(registry, db.NewMemoryAlertStore(), cfg)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return hash.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	calls := hash.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, hash.calls.Load(), "loop must not run after Stop returns")

	s.Stop()
	require.NoError(t, s.Start(context.Background()), "restart after stop")
	s.Stop()
}

func TestStopOnParentCancel(t *testing.T) {
	registry, err := detector.NewRegistry(&stubDetector{mechanism: model.MechanismTemporalDrift})
	require.NoError(t, err)
	s := New(registry, db.NewMemoryAlertStore(), config.DefaultSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after parent context was canceled")
	}
}

func TestParentCancelClearsRunning(t *testing.T) {
	hash := &stubDetector{mechanism: model.MechanismHashChainVerification}
	registry, err := detector.NewRegistry(hash)
	require.NoError(t, err)
	s := New(registry, db.NewMemoryAlertStore(), config.DefaultSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return hash.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Start(context.Background()), "restart without Stop")
	assert.True(t, s.Running())
	s.Stop()
	assert.False(t, s.Running())
}

func TestGetRecentAlertsAndAcknowledge(t *testing.T) {
	alert := testAlert(model.SeverityWarning, model.MechanismTemporalDrift)
	drift := &stubDetector{mechanism: model.MechanismTemporalDrift, alerts: []model.AnomalyAlert{alert}}
	s, _ := newTestScheduler(t, db.NewMemoryAlertStore(), drift)
	ctx := context.Background()
	s.RunAllNow(ctx)

	sev := model.SeverityCritical
	got, err := s.GetRecentAlerts(ctx, 24, &sev, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.GetRecentAlerts(ctx, 24, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Acknowledged)

	acked, err := s.AcknowledgeAlert(ctx, alert.AlertID, "reviewer@example.com")
	require.NoError(t, err)
	assert.True(t, acked)

	acked, err = s.AcknowledgeAlert(ctx, "does-not-exist", "reviewer@example.com")
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestJobsSnapshot(t *testing.T) {
	s, _ := newTestScheduler(t, db.NewMemoryAlertStore(),
		&stubDetector{mechanism: model.MechanismConscienceOverride},
		&stubDetector{mechanism: model.MechanismCrossAgentDivergence},
	)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, model.MechanismCrossAgentDivergence, jobs[0].Name)
	assert.Equal(t, 6*time.Hour, jobs[0].Interval)
	assert.Nil(t, jobs[0].LastRun)

	s.runDue(context.Background(), t0)
	for _, j := range s.Jobs() {
		require.NotNil(t, j.LastRun)
		assert.Equal(t, t0, *j.LastRun)
	}
}
