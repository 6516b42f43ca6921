package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "SIGNET_CONFIG_DIR_PATH"
	defaultConfigDirPath = "config"
)

// Config represents the overall application configuration
type Config struct {
	mode             Mode
	policy           *PolicyConfig
	routers          *RoutersConfig
	walletKeyHex     string
	walletPassphrase string
	serviceKeyHex    string
	oneInchAPIKey    string
	rpcURLs          map[uint64]string
	approvalTTL      time.Duration
	dbConf           DatabaseConfig
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("SIGNET_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid SIGNET_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf DatabaseConfig
	dbURL := os.Getenv("SIGNET_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		// Read db config
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	// The wallet key signs transactions; the service key signs approval tokens.
	walletKeyHex := os.Getenv("SIGNET_WALLET_PRIVATE_KEY")
	if walletKeyHex == "" {
		logger.Fatal("SIGNET_WALLET_PRIVATE_KEY environment variable is required")
	}
	serviceKeyHex := os.Getenv("SIGNET_SERVICE_PRIVATE_KEY")
	if serviceKeyHex == "" {
		logger.Fatal("SIGNET_SERVICE_PRIVATE_KEY environment variable is required")
	}
	walletPassphrase := os.Getenv("SIGNET_WALLET_PASSPHRASE")

	approvalTTL := defaultApprovalTokenTTL
	if raw := os.Getenv("SIGNET_APPROVAL_TTL_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			approvalTTL = time.Duration(parsed) * time.Second
		} else {
			logger.Warn("invalid SIGNET_APPROVAL_TTL_SECONDS", "value", raw)
		}
	}
	logger.Info("set approval token ttl", "value", approvalTTL)

	policy, err := LoadPolicy(configDirPath)
	if err != nil {
		logger.Fatal("failed to load policy", "error", err)
	}

	routers, err := LoadRouters(configDirPath)
	if err != nil {
		logger.Fatal("failed to load routers", "error", err)
	}

	config := Config{
		mode:             mode,
		policy:           policy,
		routers:          routers,
		walletKeyHex:     walletKeyHex,
		walletPassphrase: walletPassphrase,
		serviceKeyHex:    serviceKeyHex,
		oneInchAPIKey:    os.Getenv("SIGNET_ONEINCH_API_KEY"),
		rpcURLs:          loadRPCURLs(policy, logger),
		approvalTTL:      approvalTTL,
		dbConf:           dbConf,
	}

	return &config, nil
}

// loadRPCURLs reads one SIGNET_RPC_URL_<chainID> variable per allowed
// chain. A chain without an rpc url still works; gas estimation and
// simulation just degrade to their fallbacks.
func loadRPCURLs(policy *PolicyConfig, logger Logger) map[uint64]string {
	urls := make(map[uint64]string)
	for _, chainID := range policy.AllowedChains {
		envKey := "SIGNET_RPC_URL_" + strconv.FormatUint(chainID, 10)
		url := os.Getenv(envKey)
		if url == "" {
			logger.Warn("no rpc url configured for chain", "chainID", chainID, "env", envKey)
			continue
		}
		urls[chainID] = url
	}
	return urls
}
