// Package config loads environment-driven settings and per-chain presets.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	// Chain
	ChainID        int64
	RPCEndpoint    string
	WSEndpoint     string // optional; empty disables websocket confirmation watching
	SignerEndpoint string // external signer daemon (eth_signTransaction)

	// Database
	DBDriver string // "sqlite" or "postgres"
	DBPath   string // sqlite file path
	DBDSN    string // postgres DSN

	// Price aggregator
	AggregatorURL string

	// Swap limits
	MinSlippagePct  float64
	MaxSlippagePct  float64
	DefaultGasLimit uint64
	GasBumpPct      int64 // priority bump applied to the node gas price

	// Queue
	QueueWorkers int
	QueueWait    time.Duration // hard ceiling a caller waits for a terminal state

	// Caching
	PriceTTL   time.Duration
	BaseUSDTTL time.Duration
	BalanceTTL time.Duration

	// Validation
	MinLiquidityBase float64 // floor in base-currency units

	// Background services
	ReconcileInterval time.Duration
	RiskPollInterval  time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the core still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		ChainID:           int64(getEnvInt("CHAIN_ID", 56)),
		RPCEndpoint:       getEnv("RPC_ENDPOINT", "http://localhost:8545"),
		WSEndpoint:        os.Getenv("WS_ENDPOINT"),
		SignerEndpoint:    getEnv("SIGNER_ENDPOINT", "http://localhost:8550"),
		DBDriver:          getEnv("DB_DRIVER", "sqlite"),
		DBPath:            getEnv("DB_PATH", "./data/dexcore.db"),
		DBDSN:             os.Getenv("DB_DSN"),
		AggregatorURL:     getEnv("AGGREGATOR_URL", "https://api.dexscreener.com"),
		MinSlippagePct:    getEnvFloat("MIN_SLIPPAGE_PCT", 0.1),
		MaxSlippagePct:    getEnvFloat("MAX_SLIPPAGE_PCT", 50),
		DefaultGasLimit:   uint64(getEnvInt("DEFAULT_GAS_LIMIT", 500000)),
		GasBumpPct:        int64(getEnvInt("GAS_BUMP_PCT", 10)),
		QueueWorkers:      getEnvInt("QUEUE_WORKERS", 4),
		QueueWait:         getEnvDuration("QUEUE_WAIT", 120*time.Second),
		PriceTTL:          getEnvDuration("PRICE_TTL", 2*time.Minute),
		BaseUSDTTL:        getEnvDuration("BASE_USD_TTL", 5*time.Minute),
		BalanceTTL:        getEnvDuration("BALANCE_TTL", 30*time.Second),
		MinLiquidityBase:  getEnvFloat("MIN_LIQUIDITY_BASE", 0.1),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 2*time.Minute),
		RiskPollInterval:  getEnvDuration("RISK_POLL_INTERVAL", 15*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
