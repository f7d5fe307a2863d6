package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/mailqueue/internal/api"
	"github.com/ignite/mailqueue/internal/app"
	"github.com/ignite/mailqueue/internal/config"
	"github.com/ignite/mailqueue/internal/worker"
)

// listen claims the API port up front so a stale process holding it is
// reported before any backend is connected.
func listen(addr string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	return ln, nil
}

func main() {
	log.Println("Starting mailqueue API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	ln, err := listen(cfg.Server.Addr(), cfg.Server.Port)
	if err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	log.Printf("Queue backend: %s, transport: %s", cfg.Queue.Backend, cfg.Transport.Driver)

	if a.Backpressure.Enabled() {
		go a.Backpressure.Start(ctx)
		log.Printf("Backpressure monitor started (max depth %d)", cfg.Queue.MaxQueueDepth)
	}

	var dispatcher *worker.Dispatcher
	if cfg.EmbeddedDispatcher() {
		dispatcher, err = a.NewDispatcher()
		if err != nil {
			log.Fatalf("Failed to build dispatcher: %v", err)
		}
		a.AddNotifier(dispatcher)
		dispatcher.Start(ctx)
		a.StartMaintenance(ctx)
		log.Printf("Embedded dispatcher started (%d workers)", cfg.Dispatcher.Concurrency)
	} else {
		log.Println("Dispatching is left to cmd/worker")
	}

	server := api.NewServer(cfg.Server, a.Handlers())

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	// Stop accepting requests first so nothing new is queued while the
	// dispatcher drains.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			log.Printf("Dispatcher stop: %v (unfinished jobs will be recovered when their lease expires)", err)
		}
	}

	// Cancel background tasks
	cancel()

	log.Println("Server stopped")
}
