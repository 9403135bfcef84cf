// RouteCodex entry point.
//
// Usage:
//
//	routecodex serve                       # start the server
//	routecodex serve --config config.json  # use a specific config file
//	routecodex version                     # print version info
//	routecodex health                      # check a running server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/internal/auth"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/httpapi"
	"github.com/routecodex/routecodex/internal/metrics"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/pipeline/compatibility"
	"github.com/routecodex/routecodex/internal/pipeline/llmswitch"
	"github.com/routecodex/routecodex/internal/pipeline/providermodule"
	"github.com/routecodex/routecodex/internal/pipeline/workflow"
	"github.com/routecodex/routecodex/internal/route"
	"github.com/routecodex/routecodex/internal/server"
	"github.com/routecodex/routecodex/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON or YAML)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "console", "Log format: console or json")
	metricsAddr := fs.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	otelEndpoint := fs.String("otel-endpoint", "", "OTLP gRPC endpoint (empty disables telemetry)")
	fs.Parse(args)

	logger := initLogger(*logLevel, *logFormat)
	defer logger.Sync()

	logger.Info("starting routecodex",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(telemetry.Config{
		Enabled:      *otelEndpoint != "",
		OTLPEndpoint: *otelEndpoint,
		ServiceName:  "routecodex",
		SampleRate:   1.0,
	}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProviders.Shutdown(ctx)
	}()

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	norm, warnings, asmCfg, err := loader.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	for _, w := range warnings {
		logger.Warn("config warning", zap.String("stage", w.Stage), zap.String("message", w.Message))
	}
	runtimeCfg := config.LoadRuntimeOverrides()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	oauthManager := auth.NewManager(logger, auth.DefaultRefreshers(httpClient))

	registry := pipeline.NewRegistry()
	llmswitch.Register(registry)
	workflow.Register(registry)
	compatibility.Register(registry)
	providermodule.Register(registry)

	assembler := pipeline.NewAssembler(registry, logger)
	assembled, assembleWarnings, err := assembler.Assemble(context.Background(), asmCfg, norm, oauthManager)
	if err != nil {
		logger.Fatal("failed to assemble pipelines", zap.Error(err))
	}
	for _, w := range assembleWarnings {
		logger.Warn("assembly warning", zap.String("message", w))
	}

	health := route.NewFanOutHealth(logger)
	for id, pl := range assembled.Pipelines {
		prober, _ := pl.Provider.(route.Prober)
		passive, _ := pl.Provider.(route.PassiveHealth)
		if prober != nil || passive != nil {
			health.Register(id, prober, passive)
		}
	}
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	health.StartBackground(healthCtx, 30*time.Second, 5*time.Second)

	var selector *route.Selector
	if asmCfg.RoutePolicy == "weighted" {
		selector = route.NewWeightedSelector(assembled.Pools, health, asmCfg.RouteWeights)
	} else {
		selector = route.NewSelector(assembled.Pools, health)
	}
	entryProtocol := dto.Protocol(norm.InputProtocol)

	collector := metrics.NewCollector("routecodex", logger)
	_ = collector // wired into httpapi once request-scoped instrumentation lands; kept initialized so /metrics is never empty

	apiServer := httpapi.NewServer(assembled.Pipelines, selector, entryProtocol, logger)

	httpCfg := server.DefaultConfig()
	httpCfg.Addr = fmt.Sprintf(":%d", runtimeCfg.Port)
	// Long-lived SSE streams must not be cut off by a fixed write deadline.
	httpCfg.WriteTimeout = 0
	manager := server.NewManager(apiServer.Handler(), httpCfg, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsManager := server.NewManager(metricsMux, server.Config{
		Addr:            *metricsAddr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}, logger)
	if err := metricsManager.Start(); err != nil {
		logger.Warn("failed to start metrics server", zap.Error(err))
	}

	manager.WaitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsManager.Shutdown(shutdownCtx)

	for id, pl := range assembled.Pipelines {
		if err := pl.Cleanup(shutdownCtx); err != nil {
			logger.Warn("pipeline cleanup failed", zap.String("pipeline_id", id), zap.Error(err))
		}
	}

	logger.Info("routecodex stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("routecodex %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`routecodex - reverse proxy for LLM provider APIs

Usage:
  routecodex <command> [options]

Commands:
  serve     Start the routecodex server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>        Path to configuration file (JSON or YAML)
  --log-level <level>    debug, info, warn, error (default info)
  --log-format <format>  console or json (default console)
  --metrics-addr <addr>  Prometheus metrics listen address (default :9090)
  --otel-endpoint <addr> OTLP gRPC endpoint; telemetry is disabled if unset

Examples:
  routecodex serve
  routecodex serve --config /etc/routecodex/config.json
  routecodex health --addr http://localhost:8080
  routecodex version`)
}

func initLogger(level, format string) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
