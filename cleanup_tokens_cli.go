package main

import (
	"context"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// runCleanupTokensCli deletes expired approval tokens from the database.
// Example: signet cleanup-tokens
func runCleanupTokensCli(logger Logger) {
	logger = logger.NewSystem("cleanup-tokens")
	if len(os.Args) != 2 {
		logger.Fatal("Usage: signet cleanup-tokens")
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	serviceKey, err := crypto.HexToECDSA(strings.TrimPrefix(config.serviceKeyHex, "0x"))
	if err != nil {
		logger.Fatal("Failed to parse service key", "error", err)
	}

	manager := NewApprovalTokenManager(NewGormTokenStore(db), serviceKey, nil, logger)
	deleted, err := manager.Cleanup(context.Background())
	if err != nil {
		logger.Fatal("Failed to clean up approval tokens", "error", err)
	}
	logger.Info("Expired approval tokens removed", "count", deleted)
}
