// @title ConvoFlow API
// @version 1.0.0
// @description Conversational gateway: multi-provider LLM chat with tool calling, streamed over SSE and WebSocket.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/convoflow/config"
	"github.com/BaSui01/convoflow/internal/database"
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/internal/telemetry"
)

// Set at build time.
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

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "cleanup":
		err = runCleanup(os.Args[2:])
	case "usage":
		err = runUsage(os.Args[2:])
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig parses the shared --config flag plus any command flags
// registered on fs.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting convoflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, logger, providers)
	if err := srv.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srv.Errors():
		logger.Error("listener failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	logger.Info("convoflow stopped")
	return nil
}

// openStore connects the session store for the maintenance commands.
func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, func(), error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	poolCfg := database.PoolConfigFrom(cfg.Database)
	poolCfg.HealthCheckInterval = 0
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return store.New(pool, logger), func() { _ = pool.Close() }, nil
}

func runCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 0, "Age of sessions to purge (default: conversation.retention)")
	archive := fs.Bool("archive", false, "Archive matching sessions instead of deleting them")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	age := *olderThan
	if age <= 0 {
		age = cfg.Conversation.Retention
	}
	if age <= 0 {
		return fmt.Errorf("no retention configured, pass --older-than")
	}

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	cutoff := time.Now().Add(-age)
	if *archive {
		n, err := st.ArchiveOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("archived %d sessions idle since %s\n", n, cutoff.Format(time.RFC3339))
		return nil
	}
	n, err := st.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d sessions idle since %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

func runUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	date := fs.String("date", "", "Day to report, YYYY-MM-DD (default: today)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	day := time.Now()
	if *date != "" {
		day, err = time.ParseInLocation(time.DateOnly, *date, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	report, err := st.DailyUsage(ctx, day)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check readiness instead of liveness")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/health"
	if *ready {
		path = "/ready"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

func printVersion() {
	fmt.Printf("ConvoFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ConvoFlow - conversational LLM gateway

Usage:
  convoflow <command> [options]

Commands:
  serve     Start the API and metrics servers
  cleanup   Delete or archive idle sessions
  usage     Print the usage report for one day
  health    Check a running server
  version   Show version information
  help      Show this help message

Options:
  --config <path>        Path to configuration file (serve, cleanup, usage)
  --older-than <dur>     cleanup: session age, e.g. 720h
  --archive              cleanup: archive instead of delete
  --date <YYYY-MM-DD>    usage: day to report
  --addr <url>           health: server address
  --ready                health: query /ready

Examples:
  convoflow serve --config /etc/convoflow/config.yaml
  convoflow cleanup --older-than 720h --archive
  convoflow usage --date 2026-01-31
  convoflow health --addr http://localhost:8080`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
