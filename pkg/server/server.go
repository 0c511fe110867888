package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/miravalier/tabletop/pkg/blob"
)

// Server is the tabletop session server
type Server struct {
	config   ServerConfig
	store    Store
	blobs    blob.Store
	verifier Verifier

	registry    *Registry
	accounts    *Accounts
	transfers   *Transfers
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	metrics     *Metrics

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
	nextConnID atomic.Uint64

	baseCtx  context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	sessions sync.WaitGroup
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr    string
	HTTPPort      int
	TLSCertFile   string
	TLSKeyFile    string
	AutocertHosts []string
	AutocertCache string

	MaxChunkCount         int
	AccountCacheSize      int
	HistoryLimit          int
	TransferTTL           time.Duration
	TransferSweepInterval time.Duration
	MaxFrameBytes         int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:            "",
		HTTPPort:              8765,
		AutocertCache:         "~/.tabletop/autocert",
		MaxChunkCount:         160,
		AccountCacheSize:      64,
		HistoryLimit:          100,
		TransferTTL:           120 * time.Second,
		TransferSweepInterval: 30 * time.Second,
		MaxFrameBytes:         1 << 20, // 1MB
	}
}

// NewServer creates a server over the given collaborators
func NewServer(config ServerConfig, store Store, blobs blob.Store, verifier Verifier) (*Server, error) {
	accounts, err := NewAccounts(store, config.AccountCacheSize)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:      config,
		store:       store,
		blobs:       blobs,
		verifier:    verifier,
		registry:    registry,
		accounts:    accounts,
		transfers:   NewTransfers(config.MaxChunkCount, config.TransferTTL),
		broadcaster: NewBroadcaster(registry),
		dispatcher:  NewDispatcher(),
		startTime:   time.Now(),
		baseCtx:     ctx,
		cancel:      cancel,
		shutdown:    make(chan struct{}),
	}
	s.registerHandlers(s.dispatcher)
	return s, nil
}

// SetMetrics attaches metrics to the server and its components
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
	s.registry.SetMetrics(metrics)
	s.transfers.SetMetrics(metrics)
	s.broadcaster.SetMetrics(metrics)
}

// Registry returns the live connection registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start listens on the configured port and serves HTTP and WebSocket traffic
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.HTTPPort))
	lc := net.ListenConfig{Control: listenControl}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	logListenBacklog(listener.Addr().String())

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serve, scheme, err := s.serveFunc()
	if err != nil {
		listener.Close()
		return err
	}
	debugLog.Printf("Serving %s on %s", scheme, listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	// Start abandoned transfer cleanup goroutine
	s.wg.Add(1)
	go s.transferCleanupLoop()

	s.wg.Add(1)
	go s.monitorListenOverflows()

	return nil
}

// listenControl applies platform socket options to the listening socket
func listenControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) { sockErr = setSocketOptions(fd) }); err != nil {
		return err
	}
	return sockErr
}

// serveFunc picks plain HTTP, TLS from files, or ACME managed TLS
func (s *Server) serveFunc() (func(net.Listener) error, string, error) {
	switch {
	case len(s.config.AutocertHosts) > 0:
		cacheDir, err := expandHome(s.config.AutocertCache)
		if err != nil {
			return nil, "", err
		}
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.config.AutocertHosts...),
			Cache:      autocert.DirCache(cacheDir),
		}
		s.httpServer.TLSConfig = manager.TLSConfig()
		return func(l net.Listener) error { return s.httpServer.ServeTLS(l, "", "") }, "https", nil
	case s.config.TLSCertFile != "":
		if _, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile); err != nil {
			return nil, "", fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return func(l net.Listener) error {
			return s.httpServer.ServeTLS(l, s.config.TLSCertFile, s.config.TLSKeyFile)
		}, "https", nil
	default:
		return s.httpServer.Serve, "http", nil
	}
}

// Addr returns the listening address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server. Later calls are no-ops.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() { err = s.stop() })
	return err
}

func (s *Server) stop() error {
	close(s.shutdown)

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}

	// Hijacked WebSocket connections are not tracked by http.Server
	s.cancel()
	s.registry.CloseAll()

	s.wg.Wait()
	s.sessions.Wait()

	return err
}

// transferCleanupLoop periodically drops transfers that stopped receiving chunks
func (s *Server) transferCleanupLoop() {
	defer s.wg.Done()

	interval := s.config.TransferSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			if n := s.transfers.Expire(now); n > 0 {
				log.Printf("Dropped %d abandoned transfers", n)
			}
		}
	}
}
