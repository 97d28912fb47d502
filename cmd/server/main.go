/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the timesheet engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration, then apply command-line flags
  2. Install tracing (when OTEL_EXPORTER_OTLP_ENDPOINT is set)
  3. Open the SQLite store
  4. Build ledger, accruer, services and the email notifier
  5. Start the TOIL expiry scheduler (when enabled)
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: $PORT or 8080)
  -db         SQLite database path (default: $DB_PATH or timesheet.db)
              Use ":memory:" for in-memory database
  -scenarios  Mount the demo scenario routes

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the expiry scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces and close the database

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/practicehub/timesheet-engine/api"
	"github.com/practicehub/timesheet-engine/config"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/notify"
	"github.com/practicehub/timesheet-engine/store/sqlite"
	"github.com/practicehub/timesheet-engine/telemetry"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	scenarios := flag.Bool("scenarios", false, "Enable demo scenario routes")
	flag.Parse()

	shutdownTelemetry := telemetry.Setup("timesheet-engine")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain services
	ledger := toil.NewLedger()
	accruer := toil.NewAccruer(ledger, toil.ExpiryPolicy{Months: cfg.ToilExpiryMonths})
	toilService := toil.NewService(timesheet.ToilTransactor(store), ledger)

	translator, err := notify.NewTranslator(cfg.DefaultLocale)
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}
	notifier := notify.NewEmailNotifier(
		notify.NewProvider(notify.ProviderConfig{
			Kind:         cfg.EmailProvider,
			WebhookURL:   cfg.EmailWebhookURL,
			WebhookToken: cfg.EmailWebhookToken,
		}),
		translator,
		notify.EmailConfig{From: cfg.EmailFrom, AppURL: cfg.AppURL},
	)

	entries := timesheet.NewEntryService(store, ledger)
	workflow := timesheet.NewWorkflow(store, accruer, notifier, timesheet.WorkflowConfig{
		MinWeeklyHours:  generic.Hours{Value: cfg.MinWeeklyHours},
		BulkConcurrency: cfg.BulkConcurrency,
	})

	// Initialize handler
	handler := api.NewHandler(store, entries, workflow, toilService)
	handler.JWTSecret = cfg.JWTSecret
	if cfg.JWTSecret == "" {
		log.Println("Warning: JWT_SECRET not set, trusting X-Tenant-ID/X-User-ID/X-User-Role headers")
	}

	// Expiry scheduler
	scheduler := api.NewExpiryScheduler(toilService)
	scheduler.Enabled = cfg.ExpirySweepEnabled
	scheduler.CheckInterval = cfg.ExpirySweepInterval
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:            api.NewAuthenticator(cfg.JWTSecret),
		CORSOrigins:     cfg.CORSOrigins,
		Scheduler:       scheduler,
		EnableScenarios: *scenarios,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      otelhttp.NewHandler(router, "timesheet-engine"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
