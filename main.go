package main

import (
	"context"
	"embed"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

func main() {
	logger := NewLoggerIPFS("root")
	if len(os.Args) > 1 {
		// If a CLI command is provided, run it and exit
		runCli(logger, os.Args[1])
		return
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	keystore := NewMemoryKeystore()
	walletAddress, err := keystore.AddKey(config.walletKeyHex, config.walletPassphrase)
	if err != nil {
		logger.Fatal("failed to load wallet key", "error", err)
	}
	if err := keystore.Unlock(walletAddress, config.walletPassphrase); err != nil {
		logger.Fatal("failed to unlock wallet key", "error", err)
	}
	logger.Info("wallet key loaded", "address", walletAddress)

	serviceKey, err := crypto.HexToECDSA(strings.TrimPrefix(config.serviceKeyHex, "0x"))
	if err != nil {
		logger.Fatal("failed to parse service key", "error", err)
	}

	// Initialize Prometheus metrics
	metrics := NewMetrics()

	ledger := NewLedger(db)
	tokenStore := NewGormTokenStore(db)
	tokenManager := NewApprovalTokenManager(tokenStore, serviceKey, metrics, logger)
	pending := NewPendingApprovalStore(config.approvalTTL, logger)

	chainClients := make([]ChainRPC, 0, len(config.rpcURLs))
	for chainID, rpcURL := range config.rpcURLs {
		client, err := NewEthChainRPC(context.Background(), chainID, rpcURL)
		if err != nil {
			logger.Fatal("failed to initialize chain rpc client", "chainID", chainID, "error", err)
		}
		chainClients = append(chainClients, client)
		logger.Info("chain rpc client ready", "chainID", chainID)
	}
	var chains *ChainRouter
	if len(chainClients) > 0 {
		chains = NewChainRouter(chainClients...)
	}

	var aggregator AggregatorClient
	if config.oneInchAPIKey != "" {
		aggregator = NewOneInchClient("", config.oneInchAPIKey, metrics, logger)
	}

	signer := NewWalletSigner(keystore, tokenManager, ledger, chains, logger)
	gateway := NewGateway(GatewayParams{
		Policy:           config.policy,
		Routers:          config.routers,
		Aggregator:       aggregator,
		Chains:           chains,
		Ledger:           ledger,
		Pending:          pending,
		Tokens:           tokenManager,
		Signer:           signer,
		Metrics:          metrics,
		Logger:           logger,
		ApprovalTokenTTL: config.approvalTTL,
	})
	spoolDir := os.Getenv("SIGNET_SPOOL_DIR")
	if spoolDir == "" {
		spoolDir = "spool"
	}
	intake, err := NewSpoolIntake(gateway, pending, spoolDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize spool intake", "error", err)
	}

	intakeCtx, intakeCancel := context.WithCancel(context.Background())
	go intake.Run(intakeCtx)
	logger.Info("spool intake running", "dir", spoolDir)

	done := make(chan struct{})

	// Expired approval tokens are swept on the same cadence as the
	// pending approval store.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := tokenManager.Cleanup(context.Background()); err != nil {
					logger.Warn("approval token cleanup failed", "error", err)
				}
			}
		}
	}()

	metricsListenAddr := ":4242"
	metricsEndpoint := "/metrics"
	// Set up a separate mux for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	// Start metrics server on a separate port
	metricsServer := &http.Server{
		Addr:    metricsListenAddr,
		Handler: metricsMux,
	}

	// Start metrics monitoring
	go metrics.RecordMetricsPeriodically(db, pending, logger, done)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	intakeCancel()
	close(done)

	// Closing the pending store resolves every in-flight approval to
	// rejected, so no intent can slip through during shutdown.
	pending.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	logger.Info("shutdown complete")
}

func runCli(logger Logger, name string) {
	switch name {
	case "cleanup-tokens":
		runCleanupTokensCli(logger)
	case "export-audit":
		runExportAuditCli(logger)
	default:
		logger.Fatal("Unknown CLI command", "name", name)
	}
}
