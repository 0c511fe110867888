package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/identity"
	"github.com/miravalier/tabletop/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.tabletop/config.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	pprofAddr := flag.String("pprof", "", "Address for the pprof server, e.g. localhost:6060 (disabled when empty)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Tabletop Server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		config.Database.Driver = database.DriverSQLite
		config.Database.Path = *dbPath
	}

	if *debug {
		server.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	dbConfig, err := config.DatabaseConfig()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if dbConfig.Driver != database.DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(dbConfig.Path), 0755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	db, err := database.Open(dbConfig)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	storageConfig, err := config.StorageConfig()
	if err != nil {
		log.Fatalf("Failed to resolve storage config: %v", err)
	}
	blobs, err := blob.Open(context.Background(), storageConfig)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	verifierConfig, err := config.VerifierConfig()
	if err != nil {
		log.Fatalf("Failed to load auth config: %v", err)
	}
	verifier, err := identity.NewVerifier(verifierConfig)
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v (set auth.hmac_secret or auth.public_key_path)", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	serverConfig := config.ToServerConfig()
	srv, err := server.NewServer(serverConfig, db, blobs, verifier)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	srv.SetMetrics(server.NewMetrics(reg))

	log.Printf("Config: %s", *configPath)
	log.Printf("Database: %s (%s)", db.Driver(), dbConfig.Path)
	log.Printf("Storage: %s", storageConfig.Backend)

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Tabletop server %s started successfully", Version)
	log.Printf("  - WebSocket: ws://%s/ws", srv.Addr())
	log.Printf("  - Health:    http://%s/health", srv.Addr())
	log.Printf("  - Metrics:   http://%s/metrics", srv.Addr())

	if *pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
