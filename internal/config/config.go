package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	ServerAddr  string

	SorobanRPCURL            string
	SorobanNetworkPassphrase string
	MatchContractID          string
	ProtocolSignerSecret     string

	OperatorToken string

	ChainMaxAttempts    int
	ChainPollInterval   time.Duration
	ChainInitialBackoff time.Duration
	ChainMaxBackoff     time.Duration

	ReconcileInterval time.Duration
	AlertCondition    string
}

// Load reads configuration from environment. A .env file in the working
// directory is read first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "match_authority")
		pass := getenv("POSTGRES_PASSWORD", "match_authority_pass")
		db := getenv("POSTGRES_DB", "match_authority")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	return &Config{
		DatabaseURL: dsn,
		ServerAddr:  getenv("SERVER_ADDR", "0.0.0.0:8080"),

		SorobanRPCURL:            getenv("SOROBAN_RPC_URL", "https://soroban-testnet.stellar.org"),
		SorobanNetworkPassphrase: getenv("SOROBAN_NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		MatchContractID:          os.Getenv("MATCH_CONTRACT_ID"),
		ProtocolSignerSecret:     os.Getenv("PROTOCOL_SIGNER_SECRET"),

		OperatorToken: os.Getenv("OPERATOR_TOKEN"),

		ChainMaxAttempts:    parseInt(getenv("CHAIN_MAX_ATTEMPTS", "3"), 3),
		ChainPollInterval:   parseDuration(getenv("CHAIN_POLL_INTERVAL", "5s"), 5*time.Second),
		ChainInitialBackoff: parseDuration(getenv("CHAIN_INITIAL_BACKOFF", "1s"), time.Second),
		ChainMaxBackoff:     parseDuration(getenv("CHAIN_MAX_BACKOFF", "10s"), 10*time.Second),

		ReconcileInterval: parseDuration(getenv("RECONCILE_INTERVAL", "1m"), time.Minute),
		AlertCondition:    os.Getenv("ALERT_CONDITION"),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
