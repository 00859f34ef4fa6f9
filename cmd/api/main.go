package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/client"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/config"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/db"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/http"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/repository"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/service"
)

func main() {
	log.Println("Starting Provisioning Service...")

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	instanceRepo := repository.NewInstanceRepository(pool)
	rollbackRepo := repository.NewRollbackLogRepository(pool)

	// Initialize provider clients behind the rate-limited decorators
	compute := provider.NewRateLimitedCompute(
		client.NewComputeClient(cfg.Compute.APIURL, cfg.Compute.APIKey),
		cfg.Compute.RatePerSec, cfg.Compute.Burst,
		provider.RetryPolicy{MaxRetries: cfg.Compute.MaxRetries, BaseBackoff: cfg.Compute.BaseBackoff},
	)
	dns := provider.NewRateLimitedDNS(
		client.NewDNSClient(cfg.DNS.APIURL, cfg.DNS.APIToken, cfg.DNS.ZoneID),
		cfg.DNS.RatePerSec, cfg.DNS.Burst,
		provider.RetryPolicy{MaxRetries: cfg.DNS.MaxRetries, BaseBackoff: cfg.DNS.BaseBackoff},
	)

	billingClient := client.NewBillingClient(cfg.Billing.ServiceURL, cfg.InternalSecret)

	var verifier service.RecordVerifier
	if cfg.DNS.VerifyRecords {
		verifier = client.NewRecordVerifier(cfg.DNS.ResolverAddr)
	}

	// Initialize services
	rollbackService := service.NewRollbackService(instanceRepo, rollbackRepo, compute, dns, billingClient)
	provisionService := service.NewProvisionService(
		cfg, instanceRepo, rollbackRepo, compute, dns, rollbackService, billingClient, verifier,
	)
	callbackService := service.NewCallbackService(instanceRepo, billingClient)

	// Start the watchdog
	prober := client.NewProbeClient(cfg.Watchdog.ProbePort, cfg.Watchdog.ProbePath, cfg.Watchdog.ProbeTimeout)
	watchdog := service.NewWatchdog(cfg.Watchdog, instanceRepo, rollbackService, prober)
	go watchdog.Run(ctx)

	// Initialize HTTP server
	server := http.NewServer(cfg, provisionService, callbackService)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down...")
	os.Exit(0)
}
