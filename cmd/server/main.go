/*
main.go - Ledger server entry point

PURPOSE:
  Initializes and starts the gas collection ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (optionally merged over a YAML config file)
  2. Construct the storage backend and advisory lock slot
  3. Create the API handler with dependencies
  4. Configure the HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional)
  -port    HTTP server port (default: 8080)
  -backend Storage backend: memory | file | bolt | sqlite (default: file)
  -data    Data directory for file/bolt/sqlite backends (default: ./data)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the storage backend
  4. Exit

EXAMPLES:
  # Shared flat file with lock file (multi-process safe)
  ./server -backend=file -data=./data

  # Embedded KV
  ./server -backend=bolt

  # Volatile, for development
  ./server -backend=memory

SEE ALSO:
  - api/server.go: Router configuration
  - store: backend implementations
  - lock: advisory lease guarding writes
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/frioserv/gas-ledger/api"
	"github.com/frioserv/gas-ledger/config"
	"github.com/frioserv/gas-ledger/lock"
	"github.com/frioserv/gas-ledger/store"
	"github.com/frioserv/gas-ledger/store/bolt"
	"github.com/frioserv/gas-ledger/store/file"
	"github.com/frioserv/gas-ledger/store/memory"
	"github.com/frioserv/gas-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	backend := flag.String("backend", "", "storage backend: memory|file|bolt|sqlite (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Storage backend + advisory lock slot. The file backend is shared
	// across processes, so its lease lives in a lock file next to the
	// state; everything else is process-local.
	st, slot, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.Close()

	handler := api.NewHandler(st, lock.NewManager(slot))
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Ledger server starting on http://localhost:%d (backend: %s)", cfg.Port, cfg.Backend)
		log.Printf("📊 API available at http://localhost:%d/api/ledger", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func buildStorage(cfg config.Config) (*store.Store, lock.Slot, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.New(memory.New()), lock.NewMemorySlot(), nil

	case config.BackendFile:
		statePath := filepath.Join(cfg.DataDir, "shared-database.json")
		lockPath := filepath.Join(cfg.DataDir, "shared-database.lock")
		return store.New(file.New(statePath)), lock.NewFileSlot(lockPath), nil

	case config.BackendBolt:
		b, err := bolt.New(filepath.Join(cfg.DataDir, "ledger.db"))
		if err != nil {
			return nil, nil, err
		}
		return store.New(b), lock.NewMemorySlot(), nil

	case config.BackendSQLite:
		b, err := sqlite.New(filepath.Join(cfg.DataDir, "ledger.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return store.New(b), lock.NewMemorySlot(), nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
