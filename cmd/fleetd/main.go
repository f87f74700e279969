// Command fleetd is the entry point for the fleet orchestrator: it loads the process config and
// account roster, wires the Manager and its collaborators, starts every enabled account's bot,
// serves /metrics, and shuts the fleet down cleanly on SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/server/main.go (flag parsing, zap setupLogger, component wiring
// in main, signal.Notify graceful shutdown) generalized from the teacher's single-market crypto
// stack to the multi-account fleet of accountstore.Store + manager.Manager.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/fleet-orchestrator/internal/accountstore"
	"github.com/atlas-desktop/fleet-orchestrator/internal/config"
	"github.com/atlas-desktop/fleet-orchestrator/internal/manager"
	"github.com/atlas-desktop/fleet-orchestrator/internal/metrics"
	"github.com/atlas-desktop/fleet-orchestrator/internal/news"
	"github.com/atlas-desktop/fleet-orchestrator/internal/notify"
	"github.com/atlas-desktop/fleet-orchestrator/internal/oracle"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"

	_ "github.com/atlas-desktop/fleet-orchestrator/internal/broker/adapters"
)

func main() {
	accountsFlag := flag.String("accounts", "", "path to the account roster JSON file (overrides FLEET_ACCOUNTS_FILE)")
	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, error (overrides FLEET_LOG_LEVEL)")
	flag.Parse()

	proc := config.Load()
	if *accountsFlag != "" {
		proc.AccountsFilePath = *accountsFlag
	}
	if *logLevelFlag != "" {
		proc.LogLevel = *logLevelFlag
	}

	logger := setupLogger(proc.LogLevel)
	defer logger.Sync()

	logger.Info("starting fleet orchestrator",
		zap.String("accountsFile", proc.AccountsFilePath),
		zap.String("metricsAddr", proc.MetricsAddr),
		zap.Duration("pollInterval", proc.PollInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := accountstore.New(logger, proc.AccountsFilePath)
	metricsSet := metrics.New()
	oracleStub := oracle.NewStub()
	newsStub := news.NewStub(nil)
	notifySink := notify.NewLogSink(logger)

	mgr := manager.New(manager.Deps{
		Store:   store,
		Metrics: metricsSet,
		Log:     logger,
		Oracle:  oracleStub,
		News:    newsStub,
		Notify:  notifySink,
		Defaults: manager.Defaults{
			MinRiskReward: decimal.NewFromFloat(1.5),
			MaxRiskReward: decimal.NewFromFloat(3.0),
			SmartExit: types.SmartExitConfig{
				Enabled: true, MinRR: decimal.NewFromFloat(1.0), DrawdownPercent: decimal.NewFromFloat(30),
			},
			NewsFilter: types.NewsFilterConfig{
				Enabled: true, MinutesBefore: 30, MinutesAfter: 30, MinImpact: "HIGH",
			},
		},
	})

	metricsServer := &http.Server{
		Addr:    proc.MetricsAddr,
		Handler: promhttp.HandlerFor(metricsSet.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", proc.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	failures := mgr.StartAllEnabled(ctx)
	for accountID, err := range failures {
		logger.Error("account failed to start", zap.String("account_id", accountID), zap.Error(err))
	}
	logger.Info("fleet startup complete", zap.Int("failures", len(failures)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	stopFailures := mgr.StopAll(context.Background())
	for accountID, err := range stopFailures {
		logger.Error("account failed to stop cleanly", zap.String("account_id", accountID), zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down metrics server", zap.Error(err))
	}

	logger.Info("fleet orchestrator stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
