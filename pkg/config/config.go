// Package config loads environment-driven settings for the execution core.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings, per spec.md §6.
type Config struct {
	DerivAppID string

	SettlementMinTimeout time.Duration
	SettlementMaxTimeout time.Duration
	SettlementBuffer     time.Duration

	SettlementLockTimeout time.Duration

	SettlementSubscribeMaxAttempts int
	SettlementSubscribeBaseDelay   time.Duration
	SettlementSubscribeMaxDelay    time.Duration

	LiveCommissionFlat float64
	LiveCommissionBps  float64

	RecoveryInterval time.Duration
	RecoveryCooldown time.Duration

	DBPath    string
	BrokerURL string

	RiskCacheCleanupInterval time.Duration

	CircuitBreakerFailureThreshold int
	CircuitBreakerCooloff          time.Duration

	NeuralMinTrainEpisodes int
	NeuralInitialLR        float64
	NeuralLRDecay          float64
	NeuralMinLR            float64

	RegimeHysteresisCycles int

	EdgePort string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		DerivAppID: getEnv("DERIV_APP_ID", "1089"),

		SettlementMinTimeout: getEnvDurationMs("SETTLEMENT_MIN_TIMEOUT_MS", 30000),
		SettlementMaxTimeout: getEnvDurationMs("SETTLEMENT_MAX_TIMEOUT_MS", 600000),
		SettlementBuffer:     getEnvDurationMs("SETTLEMENT_BUFFER_MS", 30000),

		SettlementLockTimeout: getEnvDurationMs("SETTLEMENT_LOCK_TIMEOUT_MS", 5000),

		SettlementSubscribeMaxAttempts: getEnvInt("SETTLEMENT_SUBSCRIBE_MAX_ATTEMPTS", 3),
		SettlementSubscribeBaseDelay:   getEnvDurationMs("SETTLEMENT_SUBSCRIBE_BASE_DELAY_MS", 500),
		SettlementSubscribeMaxDelay:    getEnvDurationMs("SETTLEMENT_SUBSCRIBE_MAX_DELAY_MS", 5000),

		LiveCommissionFlat: getEnvFloat("LIVE_COMMISSION_FLAT", 0),
		LiveCommissionBps:  getEnvFloat("LIVE_COMMISSION_BPS", 0),

		RecoveryInterval: getEnvDurationMs("RECOVERY_INTERVAL_MS", 10000),
		RecoveryCooldown: getEnvDurationMs("RECOVERY_COOLDOWN_MS", 30000),

		DBPath:    getEnv("DB_PATH", "./data/execution.db"),
		BrokerURL: getEnv("BROKER_WS_URL", "wss://ws.derivws.com/websockets/v3"),

		RiskCacheCleanupInterval: getEnvDurationMs("RISK_CACHE_CLEANUP_INTERVAL_MS", 60000),

		CircuitBreakerFailureThreshold: getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CircuitBreakerCooloff:          getEnvDurationMs("CIRCUIT_BREAKER_COOLOFF_MS", 30000),

		NeuralMinTrainEpisodes: getEnvInt("NEURAL_MIN_TRAIN_EPISODES", 3),
		NeuralInitialLR:        getEnvFloat("NEURAL_INITIAL_LR", 0.01),
		NeuralLRDecay:          getEnvFloat("NEURAL_LR_DECAY", 0.999),
		NeuralMinLR:            getEnvFloat("NEURAL_MIN_LR", 0.0001),

		RegimeHysteresisCycles: getEnvInt("REGIME_HYSTERESIS_CYCLES", 3),

		EdgePort: getEnv("EDGE_PORT", "8080"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDurationMs(key string, defMs int) time.Duration {
	ms := getEnvInt(key, defMs)
	return time.Duration(ms) * time.Millisecond
}
