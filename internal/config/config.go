package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/agent-lens/backend/internal/model"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Slack     SlackConfig
	Webhook   WebhookConfig
	Notify    NotifyConfig
	Postgres  PostgresConfig
	Telemetry TelemetryConfig
	Scheduler SchedulerConfig
	Detection DetectionConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level  string
	Format string // console | json
}

type SlackConfig struct {
	BotToken  string
	ChannelID string
}

// WebhookConfig - 환경변수로 지정하는 단일 webhook (비어 있으면 DB의 webhook_configs 사용)
type WebhookConfig struct {
	URL         string
	Method      string
	Body        string
	MinSeverity string
}

// NotifyConfig - 알림 전달 공통 설정
// RepeatWindow: 같은 이상을 다시 전달하지 않는 기간 (0이면 억제하지 않음)
type NotifyConfig struct {
	RepeatWindow time.Duration
}

type PostgresConfig struct {
	DatabaseURL    string
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConnections int
	TraceTable     string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// SchedulerConfig - tick 주기와 job별 실행 간격
type SchedulerConfig struct {
	Tick                  time.Duration
	DivergenceInterval    time.Duration
	ConsistencyInterval   time.Duration
	HashChainInterval     time.Duration
	TemporalDriftInterval time.Duration
	OverrideInterval      time.Duration
}

// DetectionConfig - detector별 lookback 및 임계값
type DetectionConfig struct {
	Divergence  DivergenceConfig
	Consistency ConsistencyConfig
	HashChain   HashChainConfig
	Drift       DriftConfig
	Override    OverrideConfig
}

type DivergenceConfig struct {
	Lookback       time.Duration
	MinTraces      int
	MinAgents      int
	ZScoreWarning  float64
	ZScoreCritical float64
}

type ConsistencyConfig struct {
	Lookback                time.Duration
	WarningDistinctActions  int
	WarningStddev           float64
	CriticalDistinctActions int
	CriticalStddev          float64
}

type HashChainConfig struct {
	Lookback time.Duration
}

type DriftConfig struct {
	Lookback        time.Duration
	MinTracesPerDay int
	WarningChange   float64
	CriticalChange  float64
}

type OverrideConfig struct {
	Lookback           time.Duration
	MinTraces          int
	WarningMultiplier  float64
	CriticalMultiplier float64
}

const day = 24 * time.Hour

// DefaultDetectionConfig - 기본 lookback/임계값
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Divergence: DivergenceConfig{
			Lookback:       7 * day,
			MinTraces:      10,
			MinAgents:      3,
			ZScoreWarning:  2.0,
			ZScoreCritical: 3.0,
		},
		Consistency: ConsistencyConfig{
			Lookback:                30 * day,
			WarningDistinctActions:  2,
			WarningStddev:           0.15,
			CriticalDistinctActions: 3,
			CriticalStddev:          0.2,
		},
		HashChain: HashChainConfig{
			Lookback: 30 * day,
		},
		Drift: DriftConfig{
			Lookback:        30 * day,
			MinTracesPerDay: 5,
			WarningChange:   0.15,
			CriticalChange:  0.25,
		},
		Override: OverrideConfig{
			Lookback:           7 * day,
			MinTraces:          20,
			WarningMultiplier:  2.0,
			CriticalMultiplier: 3.0,
		},
	}
}

// DefaultSchedulerConfig - 기본 tick(60초) 및 job 간격
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:                  time.Minute,
		DivergenceInterval:    6 * time.Hour,
		ConsistencyInterval:   12 * time.Hour,
		HashChainInterval:     time.Hour,
		TemporalDriftInterval: 24 * time.Hour,
		OverrideInterval:      6 * time.Hour,
	}
}

func Load() Config {
	detection := DefaultDetectionConfig()
	scheduler := DefaultSchedulerConfig()

	return Config{
		Server: ServerConfig{
			Port: envInt("LENS_PORT", 8080),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "console"),
		},
		Slack: SlackConfig{
			BotToken:  os.Getenv("SLACK_BOT_TOKEN"),
			ChannelID: os.Getenv("SLACK_CHANNEL_ID"),
		},
		Webhook: WebhookConfig{
			URL:         os.Getenv("WEBHOOK_URL"),
			Method:      getenv("WEBHOOK_METHOD", "POST"),
			Body:        os.Getenv("WEBHOOK_BODY"),
			MinSeverity: getenv("WEBHOOK_MIN_SEVERITY", "CRITICAL"),
		},
		Notify: NotifyConfig{
			RepeatWindow: envDuration("NOTIFY_REPEAT_WINDOW", 7*24*time.Hour),
		},
		Postgres: PostgresConfig{
			DatabaseURL:    os.Getenv("DATABASE_URL"),
			Host:           getenv("PGHOST", "localhost"),
			Port:           getenv("PGPORT", "5432"),
			User:           os.Getenv("PGUSER"),
			Password:       os.Getenv("PGPASSWORD"),
			Database:       os.Getenv("PGDATABASE"),
			SSLMode:        getenv("PGSSLMODE", "disable"),
			MaxConnections: envInt("PG_MAX_CONNECTIONS", 10),
			TraceTable:     getenv("LENS_TRACE_TABLE", "traces"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  getenv("OTEL_SERVICE_NAME", "agent-lens-backend"),
		},
		Scheduler: SchedulerConfig{
			Tick:                  envDuration("SCHEDULER_TICK", scheduler.Tick),
			DivergenceInterval:    envDuration("SCHEDULER_DIVERGENCE_INTERVAL", scheduler.DivergenceInterval),
			ConsistencyInterval:   envDuration("SCHEDULER_CONSISTENCY_INTERVAL", scheduler.ConsistencyInterval),
			HashChainInterval:     envDuration("SCHEDULER_HASH_CHAIN_INTERVAL", scheduler.HashChainInterval),
			TemporalDriftInterval: envDuration("SCHEDULER_TEMPORAL_DRIFT_INTERVAL", scheduler.TemporalDriftInterval),
			OverrideInterval:      envDuration("SCHEDULER_OVERRIDE_INTERVAL", scheduler.OverrideInterval),
		},
		Detection: DetectionConfig{
			Divergence: DivergenceConfig{
				Lookback:       envDuration("DIVERGENCE_LOOKBACK", detection.Divergence.Lookback),
				MinTraces:      envInt("DIVERGENCE_MIN_TRACES", detection.Divergence.MinTraces),
				MinAgents:      envInt("DIVERGENCE_MIN_AGENTS", detection.Divergence.MinAgents),
				ZScoreWarning:  envFloat("DIVERGENCE_Z_WARNING", detection.Divergence.ZScoreWarning),
				ZScoreCritical: envFloat("DIVERGENCE_Z_CRITICAL", detection.Divergence.ZScoreCritical),
			},
			Consistency: ConsistencyConfig{
				Lookback:                envDuration("CONSISTENCY_LOOKBACK", detection.Consistency.Lookback),
				WarningDistinctActions:  envInt("CONSISTENCY_WARNING_ACTIONS", detection.Consistency.WarningDistinctActions),
				WarningStddev:           envFloat("CONSISTENCY_WARNING_STDDEV", detection.Consistency.WarningStddev),
				CriticalDistinctActions: envInt("CONSISTENCY_CRITICAL_ACTIONS", detection.Consistency.CriticalDistinctActions),
				CriticalStddev:          envFloat("CONSISTENCY_CRITICAL_STDDEV", detection.Consistency.CriticalStddev),
			},
			HashChain: HashChainConfig{
				Lookback: envDuration("HASH_CHAIN_LOOKBACK", detection.HashChain.Lookback),
			},
			Drift: DriftConfig{
				Lookback:        envDuration("DRIFT_LOOKBACK", detection.Drift.Lookback),
				MinTracesPerDay: envInt("DRIFT_MIN_TRACES_PER_DAY", detection.Drift.MinTracesPerDay),
				WarningChange:   envFloat("DRIFT_WARNING_CHANGE", detection.Drift.WarningChange),
				CriticalChange:  envFloat("DRIFT_CRITICAL_CHANGE", detection.Drift.CriticalChange),
			},
			Override: OverrideConfig{
				Lookback:           envDuration("OVERRIDE_LOOKBACK", detection.Override.Lookback),
				MinTraces:          envInt("OVERRIDE_MIN_TRACES", detection.Override.MinTraces),
				WarningMultiplier:  envFloat("OVERRIDE_WARNING_MULTIPLIER", detection.Override.WarningMultiplier),
				CriticalMultiplier: envFloat("OVERRIDE_CRITICAL_MULTIPLIER", detection.Override.CriticalMultiplier),
			},
		},
	}
}

// Validate - 잘못된 임계값 조합 검사 (critical < warning, 0 이하 값 등)
func (c Config) Validate() error {
	s := c.Scheduler
	if s.Tick <= 0 {
		return fmt.Errorf("scheduler tick must be positive, got %s", s.Tick)
	}
	intervals := map[string]time.Duration{
		"divergence":     s.DivergenceInterval,
		"consistency":    s.ConsistencyInterval,
		"hash_chain":     s.HashChainInterval,
		"temporal_drift": s.TemporalDriftInterval,
		"override":       s.OverrideInterval,
	}
	for name, interval := range intervals {
		if interval <= 0 {
			return fmt.Errorf("scheduler %s interval must be positive, got %s", name, interval)
		}
	}

	if c.Webhook.URL != "" {
		if _, err := model.ParseSeverity(c.Webhook.MinSeverity); err != nil {
			return fmt.Errorf("webhook min severity: %w", err)
		}
	}
	if c.Notify.RepeatWindow < 0 {
		return fmt.Errorf("notify repeat window must not be negative, got %s", c.Notify.RepeatWindow)
	}

	d := c.Detection
	lookbacks := map[string]time.Duration{
		"divergence":  d.Divergence.Lookback,
		"consistency": d.Consistency.Lookback,
		"hash_chain":  d.HashChain.Lookback,
		"drift":       d.Drift.Lookback,
		"override":    d.Override.Lookback,
	}
	for name, lookback := range lookbacks {
		if lookback <= 0 {
			return fmt.Errorf("%s lookback must be positive, got %s", name, lookback)
		}
	}

	if d.Divergence.MinAgents < 2 {
		return fmt.Errorf("divergence min agents must be at least 2, got %d", d.Divergence.MinAgents)
	}
	if err := checkPair("divergence z-score", d.Divergence.ZScoreWarning, d.Divergence.ZScoreCritical); err != nil {
		return err
	}
	if err := checkPair("consistency stddev", d.Consistency.WarningStddev, d.Consistency.CriticalStddev); err != nil {
		return err
	}
	if d.Consistency.CriticalDistinctActions < d.Consistency.WarningDistinctActions {
		return fmt.Errorf("consistency critical distinct actions (%d) below warning (%d)",
			d.Consistency.CriticalDistinctActions, d.Consistency.WarningDistinctActions)
	}
	if err := checkPair("drift change", d.Drift.WarningChange, d.Drift.CriticalChange); err != nil {
		return err
	}
	if err := checkPair("override multiplier", d.Override.WarningMultiplier, d.Override.CriticalMultiplier); err != nil {
		return err
	}
	return nil
}

func checkPair(name string, warning, critical float64) error {
	if warning <= 0 {
		return fmt.Errorf("%s warning threshold must be positive, got %v", name, warning)
	}
	if critical < warning {
		return fmt.Errorf("%s critical threshold %v below warning %v", name, critical, warning)
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
