// ====================================
// File: cmd/arb/app.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/flashloan-arb/internal/arbitrage"
	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solbc"
	"github.com/rovshanmuradov/flashloan-arb/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/flashloan-arb/internal/cache"
	"github.com/rovshanmuradov/flashloan-arb/internal/config"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/flm"
	"github.com/rovshanmuradov/flashloan-arb/internal/dex/jupiter"
	"github.com/rovshanmuradov/flashloan-arb/internal/lookuptable"
	"github.com/rovshanmuradov/flashloan-arb/internal/retry"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage"
	"github.com/rovshanmuradov/flashloan-arb/internal/storage/postgres"
	"github.com/rovshanmuradov/flashloan-arb/internal/wallet"
)

// app holds the wired dependencies of one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	clock    clockwork.Clock

	wallet    *wallet.Wallet
	client    *solbc.Client
	analyzer  *solbc.ErrorAnalyzer
	submitter *transaction.Submitter
	accounts  *wallet.TokenAccounts
	flm       *flm.Client
	jupiter   *jupiter.Client

	store   *cache.DiskStore
	names   cache.Names
	tables  *cache.Registry
	manager *lookuptable.Manager
	journal storage.Journal
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	w, err := loadWallet(cfg)
	if err != nil {
		return nil, err
	}
	programID, err := solana.PublicKeyFromBase58(cfg.FLMProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid flm_program_id: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		clock:    clockwork.NewRealClock(),
		wallet:   w,
		names:    cache.Names{Network: cfg.Network()},
	}

	commitment := rpc.CommitmentType(cfg.Commitment)
	a.client = solbc.NewClient(cfg.RPCURL, commitment, logger)
	a.analyzer = solbc.NewErrorAnalyzer(logger)

	txConfig := transaction.Config{
		ConfirmationTime:  cfg.ConfirmTimeout,
		SkipPreflight:     cfg.SkipPreflight,
		Commitment:        commitment,
		AwaitConfirmation: true,
	}
	monitor := transaction.NewMonitor(a.client, logger, txConfig, a.clock)
	a.submitter = transaction.NewSubmitter(a.client, w, logger, txConfig, monitor, reg)
	a.accounts = wallet.NewTokenAccounts(a.client, w, logger)
	a.flm = flm.NewClient(programID, a.client, w, logger)
	a.jupiter = jupiter.NewClient(cfg.JupiterURL, cfg.JupiterRPS, logger)

	a.store, err = cache.NewDiskStore(cfg.CacheDir, logger)
	if err != nil {
		return nil, err
	}
	a.tables = cache.NewRegistry(a.store, a.names.LookupTables())
	a.manager = a.managerFor(a.tables, reg)

	if cfg.PostgresURL != "" {
		a.journal, err = postgres.NewJournal(cfg.PostgresURL, cfg.DebugLogging, logger)
		if err != nil {
			return nil, err
		}
		if err := a.journal.RunMigrations(); err != nil {
			if !errors.Is(err, storage.ErrMigrationInProgress) {
				return nil, err
			}
			logger.Warn("Skipping migrations", zap.Error(err))
		}
	}

	logger.Info("Initialized",
		zap.String("wallet", w.String()),
		zap.String("network", a.names.Network),
		zap.String("rpc", cfg.RPCURL),
		zap.String("cache_dir", a.store.Dir()))
	return a, nil
}

// managerFor builds a manager over registry. Only the default manager
// registers metrics.
func (a *app) managerFor(registry *cache.Registry, reg prometheus.Registerer) *lookuptable.Manager {
	return lookuptable.NewManager(a.client, a.submitter, a.store, registry, lookuptable.Config{
		Retry: retry.Policy{
			MaxTries: uint(a.cfg.IxRetries),
			Interval: a.cfg.IxRetryDelay,
			Logger:   a.logger,
		},
	}, a.logger, reg)
}

// registryFor returns the table registry named by a --cache-file flag, or
// the network default.
func (a *app) registryFor(name string) *cache.Registry {
	if name == "" || name == a.tables.Name() {
		return a.tables
	}
	return cache.NewRegistry(a.store, name)
}

func (a *app) deps() arbitrage.Deps {
	return arbitrage.Deps{
		Router:  a.jupiter,
		Lender:  a.flm,
		Sender:  a.submitter,
		Tables:  a.manager,
		Store:   a.store,
		Journal: a.journal,
	}
}

// send submits ixs and logs the program logs of a failed simulation.
func (a *app) send(ctx context.Context, what string, ixs []solana.Instruction) (solana.Signature, error) {
	sig, err := a.submitter.Send(ctx, ixs)
	if err != nil {
		if failure := a.analyzer.Analyze(err); failure != nil {
			a.logger.Error(what+" failed", failure.Fields()...)
		}
		return sig, fmt.Errorf("%s: %w", what, err)
	}
	a.logger.Info(what+" confirmed", zap.String("signature", sig.String()))
	return sig, nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
}

// serveMetrics exposes the registry until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("Serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func loadWallet(cfg *config.Config) (*wallet.Wallet, error) {
	if cfg.PrivateKey != "" {
		w, err := wallet.NewWallet(strings.TrimSpace(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("invalid private_key: %w", err)
		}
		return w, nil
	}
	w, err := wallet.LoadKeypairFile(expandHome(cfg.Keypair))
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	return w, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
