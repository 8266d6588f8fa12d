// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/bot"
	"github.com/rovshanmuradov/graduation-sniper/internal/config"
	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/export"
	"github.com/rovshanmuradov/graduation-sniper/internal/license"
	"github.com/rovshanmuradov/graduation-sniper/internal/marketdata/pumpfun"
	"github.com/rovshanmuradov/graduation-sniper/internal/notify/telegram"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage/postgres"
	"github.com/rovshanmuradov/graduation-sniper/internal/utils/logger"
	"github.com/rovshanmuradov/graduation-sniper/internal/utils/metrics"
)

const licenseHeartbeat = time.Hour

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	exportDir := flag.String("export", "", "write stored position history to this directory and exit")
	exportFormat := flag.String("export-format", string(export.FormatCSV), "history export format: csv or json")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	var err error
	if *exportDir != "" {
		err = exportHistory(*configPath, *exportDir, export.ExportFormat(*exportFormat))
	} else {
		err = run(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "graduation-sniper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logs, err := logger.New(&logger.Config{
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSizeMB,
		MaxAge:      cfg.Log.MaxAgeDays,
		MaxBackups:  cfg.Log.MaxBackups,
		Compress:    true,
		Development: cfg.Log.Debug,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	log := logs.Logger
	log.Info("Starting graduation sniper", zap.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := bot.NewShutdownHandler(log, cfg.ShutdownGrace)
	shutdown.Add("logger", logs)

	err = start(ctx, cfg, log, shutdown)

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.ShutdownGrace+time.Second)
	defer cancel()
	if closeErr := shutdown.Shutdown(closeCtx); closeErr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", closeErr)
	}
	return err
}

// start wires the engine and blocks until ctx ends. Every resource it opens is
// registered with shutdown so run can release it.
func start(ctx context.Context, cfg *config.Config, log *zap.Logger, shutdown *bot.ShutdownHandler) error {
	if cfg.License.Key != "" {
		validator := license.NewKeygenValidator(license.Config{
			Key:       cfg.License.Key,
			Account:   cfg.License.Account,
			Product:   cfg.License.Product,
			PublicKey: cfg.License.PublicKey,
		}, log)
		if err := validator.ValidateLicense(ctx); err != nil {
			return fmt.Errorf("license: %w", err)
		}
		go validator.RunHeartbeat(ctx, licenseHeartbeat)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	shutdown.Add("storage", store)

	pool, err := pumpfun.NewPool(cfg.RPCList, log)
	if err != nil {
		return &domain.ConfigurationError{Field: "rpc_list", Reason: err.Error()}
	}
	programID, err := solana.PublicKeyFromBase58(cfg.PumpFun.ProgramID)
	if err != nil {
		return &domain.ConfigurationError{Field: "pumpfun.program_id", Reason: err.Error()}
	}
	source := pumpfun.NewSource(pool, pumpfun.Config{
		ProgramID:         programID,
		InitialRealTokens: cfg.PumpFun.InitialTokens,
		Commitment:        rpc.CommitmentType(cfg.PumpFun.Commitment),
	}, log)

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, collector, log, shutdown)
	}

	engine, err := bot.New(cfg, bot.Deps{
		Source:   source,
		Metadata: source,
		Store:    store,
		Metrics:  collector,
	}, log)
	if err != nil {
		return err
	}

	if cfg.Telegram.Token != "" {
		if err := startTelegram(cfg.Telegram, engine, log, shutdown); err != nil {
			return err
		}
	}

	return engine.Run(ctx)
}

func openStore(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	if cfg.PostgresURL == "" {
		log.Warn("No postgres_url configured, positions are kept in memory only")
		return storage.NewMemory(), nil
	}
	store, err := postgres.NewStorage(cfg.PostgresURL, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}

func serveMetrics(addr string, collector *metrics.Collector, log *zap.Logger, shutdown *bot.ShutdownHandler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	shutdown.AddFunc("metrics", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func startTelegram(cfg config.TelegramConfig, engine *bot.Bot, log *zap.Logger, shutdown *bot.ShutdownHandler) error {
	tb, err := telegram.NewBot(cfg.Token)
	if err != nil {
		return err
	}
	notifier := telegram.NewNotifier(tb, cfg.ChatID, log)
	if _, err := engine.Bus().Subscribe(events.SubscribeOptions{
		Name:  "telegram",
		Types: telegram.Types,
	}, notifier); err != nil {
		return fmt.Errorf("telegram subscription: %w", err)
	}
	telegram.RegisterCommands(tb, engine, cfg.ChatID)

	go tb.Start()
	shutdown.AddFunc("telegram", func() error {
		tb.Stop()
		return nil
	})
	log.Info("Telegram notifications enabled", zap.Int64("chat_id", cfg.ChatID))
	return nil
}

// exportHistory writes every stored position to dir without starting the engine.
func exportHistory(configPath, dir string, format export.ExportFormat) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	positions, err := store.LoadPositions(context.Background())
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	path, err := export.NewPositionExporter(log).ExportPositions(positions, export.ExportOptions{
		Format:    format,
		OutputDir: dir,
	})
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
