package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/bargain-gateway/internal/bargain"
	"github.com/tjfontaine/bargain-gateway/internal/config"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
	frontdoor "github.com/tjfontaine/bargain-gateway/internal/frontdoor/bargain"
	"github.com/tjfontaine/bargain-gateway/internal/keyring"
	"github.com/tjfontaine/bargain-gateway/internal/ledger"
	"github.com/tjfontaine/bargain-gateway/internal/negotiator"
	"github.com/tjfontaine/bargain-gateway/internal/protocol"
	"github.com/tjfontaine/bargain-gateway/internal/server"
	"github.com/tjfontaine/bargain-gateway/internal/storage"
	"github.com/tjfontaine/bargain-gateway/internal/storage/memory"
	"github.com/tjfontaine/bargain-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/bargain-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	keys, err := keyring.Derive([]byte(cfg.Seller.Seed), cfg.Seller.Network)
	if err != nil {
		log.Fatalf("Failed to derive seller keys: %v", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	funds, err := openLedger(cfg.Ledger, logger)
	if err != nil {
		log.Fatalf("Failed to configure ledger: %v", err)
	}

	validator := protocol.NewValidator()
	assembler := negotiator.NewAssembler(keys, validator,
		negotiator.NewConcession(keys.Scripts()),
		keys.Scripts(),
		negotiator.Config{
			BargainURI: cfg.Seller.BargainURI,
			ProductID:  cfg.Seller.ProductID,
			OfferTTL:   cfg.Seller.OfferTTL,
		},
		negotiator.WithLogger(logger),
	)
	svc := bargain.NewService(store, validator, assembler, funds,
		bargain.Config{
			Network:         cfg.Seller.Network,
			ReclaimTerminal: cfg.Seller.ReclaimTerminal,
		},
		bargain.WithLogger(logger),
	)

	srv := server.New(cfg.Server.Port, logger, cfg.Server.Timeout)
	frontdoor.NewHandler(svc,
		frontdoor.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		frontdoor.WithLogger(logger),
	).Register(srv.Router)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("seller started",
		slog.String("network", cfg.Seller.Network),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("reclaim_terminal", cfg.Seller.ReclaimTerminal),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}

func openStore(cfg config.StorageConfig) (storage.NegotiationStore, error) {
	if cfg.Type == "sql" {
		return sqldb.New(sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	}
	return memory.New(), nil
}

func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (domain.FundsLookup, error) {
	if cfg.BaseURL != "" {
		logger.Info("using ledger indexer", slog.String("base_url", cfg.BaseURL))
		return ledger.NewClient(cfg.BaseURL, ledger.WithTimeout(cfg.Timeout)), nil
	}
	logger.Info("using static ledger", slog.Int("scripts", len(cfg.Balances)))
	return ledger.NewStatic(cfg.Balances)
}
