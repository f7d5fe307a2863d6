package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mailqueue/internal/app"
	"github.com/ignite/mailqueue/internal/config"
)

func main() {
	log.Println("Starting mailqueue dispatcher...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Queue.Backend == config.BackendMemory {
		log.Fatal("The memory backend is private to one process; run cmd/server instead, which dispatches in-process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	log.Printf("Queue backend: %s, transport: %s", cfg.Queue.Backend, cfg.Transport.Driver)

	dispatcher, err := a.NewDispatcher()
	if err != nil {
		log.Fatalf("Failed to build dispatcher: %v", err)
	}
	dispatcher.Start(ctx)
	log.Printf("Dispatcher started (%d workers, poll every %s)", cfg.Dispatcher.Concurrency, cfg.Dispatcher.PollInterval())

	// Start Queue Recovery and Data Cleanup (lock-guarded, safe on every replica)
	a.StartMaintenance(ctx)
	log.Printf("Queue Recovery Worker started (scans every %s for expired leases)", cfg.Dispatcher.RecoveryInterval())
	log.Printf("Data Cleanup Worker started (runs every %s, keeps %s)", cfg.Dispatcher.RetentionInterval(), cfg.Queue.Retention())

	if a.Wakeup != nil {
		go a.ListenWakeups(ctx, dispatcher)
		log.Printf("Listening for wakeups on %s", cfg.Events.WakeChannel)
	} else {
		log.Printf("No Redis configured; new jobs are picked up by polling only")
	}

	var admin *http.Server
	if cfg.Dispatcher.AdminPort > 0 {
		admin = adminServer(a, cfg.Dispatcher.AdminPort)
		go func() {
			log.Printf("Admin endpoint on %s", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Admin server error: %v", err)
			}
		}()
	}

	// Worker heartbeat
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := dispatcher.Stats()
				log.Printf("Worker heartbeat - busy %d/%d, processed %d (completed %d, retried %d, failed %d)",
					s.Busy, s.Workers, s.Processed, s.Completed, s.Retried, s.Failed)
			}
		}
	}()

	log.Println("Worker running...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	log.Println("Waiting for in-flight sends...")
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Printf("Dispatcher stop: %v (unfinished jobs will be recovered when their lease expires)", err)
	}
	if admin != nil {
		admin.Shutdown(shutdownCtx)
	}
	cancel()

	log.Println("Worker stopped")
}

// adminServer exposes health and, when enabled, metrics for the worker
// process. The email routes stay on the API server.
func adminServer(a *app.App, port int) *http.Server {
	h := a.Handlers()
	r := chi.NewRouter()
	h.MountHealth(r)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
