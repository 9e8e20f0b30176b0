// agent-lens backend
//
// agent trace 집계를 주기적으로 분석해 이상 탐지 알림을 저장하는 엔진
//
// 처리 흐름 (serve):
//  1. .env / 환경변수에서 설정 로드 후 검증
//  2. trace 저장소(Postgres 또는 trace 파일)와 알림 저장소 연결, anomaly_alerts schema 보장
//  3. 5개 detector registry 구성 후 scheduler 시작
//  4. ops 서버(/ping, /healthz, /metrics) 실행
//  5. SIGINT/SIGTERM 수신 시 scheduler.Stop() 후 서버 종료

package main

import (
	"os"
	"time"

	"github.com/agent-lens/backend/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env는 로컬 개발용, 없으면 환경변수만 사용
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.Log)

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
