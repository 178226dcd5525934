package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"dex-core/internal/balance"
	"dex-core/internal/events"
	"dex-core/internal/keystore"
	"dex-core/internal/monitor"
	"dex-core/internal/oracle"
	"dex-core/internal/order"
	"dex-core/internal/position"
	"dex-core/internal/reconciliation"
	"dex-core/internal/risk"
	"dex-core/internal/swap"
	"dex-core/internal/token"
	"dex-core/pkg/config"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	presets, err := config.LoadPresets(os.Getenv("CHAIN_PRESETS"))
	if err != nil {
		log.Fatalf("chain presets: %v", err)
	}
	preset, err := config.PresetFor(presets, cfg.ChainID)
	if err != nil {
		log.Fatalf("chain %d: %v", cfg.ChainID, err)
	}
	log.Printf("✓ chain preset: %s (id %d)", preset.Name, preset.ChainID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitor.New(reg)

	store, err := db.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer store.Close()

	// Chain access
	chain := evm.NewClient(cfg.RPCEndpoint)
	var heads evm.HeadSource
	if cfg.WSEndpoint != "" {
		heads = evm.NewWSClient(cfg.WSEndpoint)
		log.Printf("✓ websocket head watching at %s", cfg.WSEndpoint)
	}
	confirmer := evm.NewConfirmer(chain, heads)

	router := evm.Address(preset.Router)
	factory := evm.Address(preset.Factory)
	wrappedBase := evm.Address(preset.WrappedBase)

	// In-memory position book seeded from the store
	ledger := position.NewLedger(store, bus, metrics)
	if err := ledger.Load(ctx); err != nil {
		log.Fatalf("position ledger load failed: %v", err)
	}

	// Pricing and validation
	aggregator := oracle.NewAggregatorClient(cfg.AggregatorURL)
	prices := oracle.New(chain, aggregator, wrappedBase, preset.AggregatorSlug,
		cfg.PriceTTL, cfg.BaseUSDTTL, metrics)
	validator := token.New(chain, store, factory, wrappedBase,
		decimal.NewFromFloat(cfg.MinLiquidityBase))

	// Swap path
	engine := swap.New(chain, confirmer, swap.Config{
		Router:          router,
		WrappedBase:     wrappedBase,
		ChainID:         big.NewInt(cfg.ChainID),
		MinSlippagePct:  cfg.MinSlippagePct,
		MaxSlippagePct:  cfg.MaxSlippagePct,
		DefaultGasLimit: cfg.DefaultGasLimit,
		GasBumpPct:      cfg.GasBumpPct,
	})
	queue := order.NewQueue(&order.EngineRunner{Engine: engine}, cfg.QueueWorkers, cfg.QueueWait, metrics)
	defer queue.Close()

	balances := balance.NewManager(chain, store, cfg.BalanceTTL)
	signers := keystore.NewRemote(cfg.SignerEndpoint, store)

	executor := order.NewExecutor(store, validator, prices, balances, signers, queue, ledger, bus, metrics)

	// Background services
	watcher := risk.NewWatcher(ledger, prices, store, executor, cfg.RiskPollInterval)
	go watcher.Start(ctx)

	reconciler := reconciliation.NewService(chain, store, ledger, bus, metrics, cfg.ReconcileInterval)
	go reconciler.Start(ctx)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("✓ execution core ready, metrics at %s/metrics", metricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
}
