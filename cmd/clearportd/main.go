package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearport/config"
	"clearport/native/fees"
	"clearport/native/settlement"
	"clearport/observability"
	"clearport/observability/logging"
	"clearport/state"
	"clearport/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	metricsAddr := flag.String("metrics-addr", ":9464", "Listen address for the metrics endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CLEARPORT_ENV"))
	logger := logging.Setup("clearportd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("path", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine, ledger, err := buildEngine(cfg, db)
	if err != nil {
		logger.Error("Failed to assemble settlement engine", slog.Any("error", err))
		os.Exit(1)
	}
	split := ledger.Split()
	logger.Info("Settlement engine ready",
		slog.Uint64("chainId", engine.Domain().ChainID),
		slog.String("engineAddress", fmt.Sprintf("%x", engine.Domain().Engine)),
		slog.Int("feeBps", int(cfg.FeeBps)),
		slog.Int("liquidityBps", int(split.LiquidityBps)),
		slog.Int("daoBps", int(split.DaoBps)),
		slog.Int("validatorBps", int(split.ValidatorBps)),
		slog.Bool("commitReveal", cfg.Commit.Enabled),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	server := &http.Server{
		Addr:              *metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Metrics endpoint listening", slog.String("addr", *metricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics endpoint shutdown failed", slog.Any("error", err))
	}
}

// buildEngine wires the engine and fee ledger against the persistent state
// backend from the loaded configuration.
func buildEngine(cfg *config.Config, db storage.Database) (*settlement.Engine, *fees.Ledger, error) {
	backend := state.NewSettlementState(db)

	ledger, err := fees.NewLedger(cfg.FeeSplit())
	if err != nil {
		return nil, nil, err
	}
	ledger.SetState(backend)
	ledger.SetPauses(cfg.Pauses())
	ledger.SetMetrics(observability.Settlement())

	recipients, err := cfg.FeeRecipients()
	if err != nil {
		return nil, nil, fmt.Errorf("fee recipients: %w", err)
	}
	if err := ledger.Bootstrap(recipients); err != nil && !errors.Is(err, fees.ErrRecipientsSet) {
		return nil, nil, fmt.Errorf("bootstrap recipients: %w", err)
	}

	domain, err := cfg.Domain()
	if err != nil {
		return nil, nil, err
	}
	engine := settlement.NewEngine(domain)
	engine.SetState(backend)
	engine.SetFeeBank(ledger)
	engine.SetPauses(cfg.Pauses())
	engine.SetMetrics(observability.Settlement())
	engine.SetDailyVolumeCap(cfg.VolumeCap())
	engine.SetCommitWindow(cfg.CommitWindow())
	if err := engine.SetFeeBps(cfg.FeeBps); err != nil {
		return nil, nil, err
	}
	return engine, ledger, nil
}
