package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-lens/backend/internal/client"
	"github.com/agent-lens/backend/internal/config"
	"github.com/agent-lens/backend/internal/handler"
	"github.com/agent-lens/backend/internal/model"
	"github.com/agent-lens/backend/internal/scheduler"
	"github.com/agent-lens/backend/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(cfg config.Config) *cobra.Command {
	var tracesFile string

	cmd := &cobra.Command{
		Use:     "serve",
		PreRunE: validateConfig(cfg),
		Short:   "Run the detection scheduler and the ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, tracesFile)
		},
	}
	cmd.Flags().StringVar(&tracesFile, "traces", "", "serve from a YAML/JSON trace file with an in-memory alert store")
	return cmd
}

func serve(parent context.Context, cfg config.Config, tracesFile string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}()

	b, err := openBackend(ctx, cfg, tracesFile)
	if err != nil {
		return err
	}
	defer b.close()

	var opts []scheduler.Option
	slack := client.NewSlackClient(cfg.Slack)
	if slack.IsConfigured() {
		opts = append(opts, scheduler.WithNotifier(guardRepeats(slack, cfg.Notify)))
	} else {
		log.Info().Msg("Slack not configured, skipping Slack notifications")
	}
	if webhooks := webhookConfigs(cfg.Webhook, b.webhooks); webhooks != nil {
		opts = append(opts, scheduler.WithNotifier(guardRepeats(client.NewWebhookNotifier(webhooks), cfg.Notify)))
	}
	sched := newEngine(b, cfg, opts...)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.NewRouter(cfg.Telemetry.ServiceName, handler.NewHealthHandler(b.alerts, sched)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Ops server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// webhookConfigs - WEBHOOK_URL이 있으면 env 설정 사용, 없으면 DB의 webhook_configs
func webhookConfigs(cfg config.WebhookConfig, stored client.WebhookConfigReader) client.WebhookConfigReader {
	if cfg.URL != "" {
		return client.StaticWebhookConfigs{{
			URL:         cfg.URL,
			Method:      cfg.Method,
			Body:        cfg.Body,
			MinSeverity: minSeverity(cfg.MinSeverity),
		}}
	}
	return stored
}

func minSeverity(raw string) model.Severity {
	s, err := model.ParseSeverity(raw)
	if err != nil {
		return model.SeverityCritical
	}
	return s
}

// guardRepeats - NOTIFY_REPEAT_WINDOW 동안 같은 이상의 재전달 억제 (0이면 그대로)
func guardRepeats(n client.AlertNotifier, cfg config.NotifyConfig) scheduler.Notifier {
	if cfg.RepeatWindow <= 0 {
		return n
	}
	return client.NewRepeatGuard(n, cfg.RepeatWindow)
}
