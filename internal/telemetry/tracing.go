// OpenTelemetry tracing 초기화
//
// 환경변수 (config.TelemetryConfig):
//   - OTEL_ENABLED (default: false)
//   - OTEL_EXPORTER_OTLP_ENDPOINT (default: localhost:4317)
//   - OTEL_SERVICE_NAME (default: agent-lens-backend)

package telemetry

import (
	"context"
	"fmt"

	"github.com/agent-lens/backend/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName - scheduler/detector span 이름 공간
const TracerName = "github.com/agent-lens/backend"

// ServiceVersion - resource에 기록되는 서비스 버전
var ServiceVersion = "0.1.0"

// Init - OTLP gRPC exporter로 전역 TracerProvider 등록
// Returns: graceful shutdown 시 호출할 종료 함수 (비활성화 상태면 no-op)
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("OpenTelemetry tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Msg("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}

// Tracer - 전역 provider 기준 tracer (Init 전에는 no-op)
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
