// Package config loads buyer configuration from environment / .env file.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gipsh/cpk-buyer-go/internal/log"
)

// ── Contract Proxy Kit defaults (mainnet / xDai deployments) ────────────
const (
	DefaultProxyFactory    = "0x0fB4340432e56c014fa96286de17222822a9281b"
	DefaultMasterCopy      = "0x6851D6fDFAfD08c0295C392436245E5bc78B0185"
	DefaultMultiSend       = "0xB522a9f781924eD250A11C54105E51840B138AdD"
	DefaultFallbackHandler = "0x40A930851BD2e590Bd5A5C981b436de25742E980"

	// DefaultSaltNonce is the CPK predetermined salt nonce.
	DefaultSaltNonce = "0xcfe33a586323e7325be6aa6ecd8b4600d232a9037e83c8ece69413b777dabe65"

	// DefaultGasLimit is the fixed gas ceiling for the batched purchase.
	DefaultGasLimit = 1_000_000
)

// ── Config fields (populated by Load) ───────────────────────────────────
var (
	// Credentials / node
	PrivateKey string
	RPCURL     string
	WSURL      string // optional, enables new-head wakeups while waiting
	ChainID    int64

	// Proxy kit contracts
	ProxyFactory    string
	MasterCopy      string
	MultiSend       string
	FallbackHandler string
	SaltNonce       string

	// Execution
	GasLimit            uint64
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration
	AllowZeroMinShares  bool
	DryRun              bool

	LogLevel string
)

// Load reads .env (if present) then overrides from OS env vars.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.L(context.Background()).Debug("[config] no .env file found, using OS environment")
	}

	PrivateKey = getEnv("PRIVATE_KEY", "")
	RPCURL = getEnv("ETH_RPC_URL", "https://rpc.gnosischain.com")
	WSURL = getEnv("ETH_WS_URL", "")
	ChainID = int64(getEnvInt("CHAIN_ID", 100))

	ProxyFactory = getEnv("CPK_FACTORY", DefaultProxyFactory)
	MasterCopy = getEnv("CPK_MASTER_COPY", DefaultMasterCopy)
	MultiSend = getEnv("CPK_MULTISEND", DefaultMultiSend)
	FallbackHandler = getEnv("CPK_FALLBACK_HANDLER", DefaultFallbackHandler)
	SaltNonce = getEnv("CPK_SALT_NONCE", DefaultSaltNonce)

	GasLimit = uint64(getEnvInt("GAS_LIMIT", DefaultGasLimit))
	ConfirmTimeout = getEnvDuration("CONFIRM_TIMEOUT", 3*time.Minute)
	ReceiptPollInterval = getEnvDuration("RECEIPT_POLL_INTERVAL", 3*time.Second)
	AllowZeroMinShares = getEnvBool("ALLOW_ZERO_MIN_SHARES", false)
	DryRun = getEnvBool("DRY_RUN", false)

	LogLevel = getEnv("LOG_LEVEL", "info")
	log.SetLevel(LogLevel)
}

// ── Helpers ──────────────────────────────────────────────────────────────

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		return strings.ToLower(v) == "true"
	}
	return fallback
}
