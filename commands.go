package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-lens/backend/internal/client"
	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/db"
	"github.com/agent-lens/backend/internal/detector"
	"github.com/agent-lens/backend/internal/model"
	"github.com/agent-lens/backend/internal/scheduler"
	"github.com/spf13/cobra"
)

// alertBackend - 알림 저장소 + 헬스체크
type alertBackend interface {
	scheduler.AlertStore
	Ping(ctx context.Context) error
}

// backend - detector가 읽는 trace 저장소와 알림 저장소 묶음
type backend struct {
	reader   detector.TraceReader
	alerts   alertBackend
	webhooks client.WebhookConfigReader // 메모리 모드에서는 nil
	close    func()
}

// openBackend - traces 파일이 주어지면 메모리 저장소, 아니면 Postgres
func openBackend(ctx context.Context, cfg config.Config, tracesFile string) (*backend, error) {
	if tracesFile != "" {
		traces, err := db.LoadTraceFile(tracesFile)
		if err != nil {
			return nil, err
		}
		return &backend{
			reader: db.NewMemoryTraceStore(traces),
			alerts: db.NewMemoryAlertStore(),
			close:  func() {},
		}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	pg := db.NewPostgres(pool, cfg.Postgres.TraceTable)
	if err := pg.EnsureAlertSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := pg.EnsureWebhookSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &backend{reader: pg, alerts: pg, webhooks: pg, close: pool.Close}, nil
}

func newEngine(b *backend, cfg config.Config, opts ...scheduler.Option) *scheduler.Scheduler {
	registry := detector.NewDefaultRegistry(b.reader, cfg.Detection, time.Now)
	return scheduler.New(registry, b.alerts, cfg.Scheduler, opts...)
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "agent-lens",
		Short:         "Anomaly detection and alerting over agent decision traces",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd := newServeCmd(cfg)
	root.PreRunE = serveCmd.PreRunE
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	root.AddCommand(
		serveCmd,
		newDetectCmd(cfg),
		newAlertsCmd(cfg),
		newAckCmd(cfg),
		newVerifyChainCmd(),
	)
	return root
}

// validateConfig - 저장소/스케줄러를 쓰는 명령 전용 (verify-chain은 설정 없이 동작)
func validateConfig(cfg config.Config) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	}
}

func newDetectCmd(cfg config.Config) *cobra.Command {
	var tracesFile, output string

	cmd := &cobra.Command{
		Use:     "detect",
		PreRunE: validateConfig(cfg),
		Short:   "Run every detector once and persist the alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg, tracesFile)
			if err != nil {
				return err
			}
			defer b.close()

			alerts := newEngine(b, cfg).RunAllNow(ctx)
			return writeAlerts(cmd.OutOrStdout(), alerts, output)
		},
	}
	cmd.Flags().StringVar(&tracesFile, "traces", "", "read traces from a YAML/JSON file instead of Postgres")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table|json")
	return cmd
}

func newAlertsCmd(cfg config.Config) *cobra.Command {
	var (
		hours    int
		limit    int
		severity string
		output   string
	)

	cmd := &cobra.Command{
		Use:     "alerts",
		PreRunE: validateConfig(cfg),
		Short:   "List recently persisted alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sev *model.Severity
			if severity != "" {
				s, err := model.ParseSeverity(severity)
				if err != nil {
					return err
				}
				sev = &s
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer b.close()

			records, err := newEngine(b, cfg).GetRecentAlerts(ctx, hours, sev, limit)
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), records, output)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", model.DefaultAlertQueryHours, "look back this many hours")
	cmd.Flags().IntVar(&limit, "limit", model.DefaultAlertQueryLimit, "maximum number of alerts")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity (WARNING|CRITICAL)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table|json")
	return cmd
}

func newAckCmd(cfg config.Config) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:     "ack <alert-id>",
		PreRunE: validateConfig(cfg),
		Short:   "Mark an alert as reviewed",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer b.close()

			ok, err := newEngine(b, cfg).AcknowledgeAlert(ctx, args[0], by)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("alert %s not found", args[0])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s by %s\n", args[0], by)
			return err
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "reviewer identity")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
