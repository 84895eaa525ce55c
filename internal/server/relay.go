package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/relay/internal/config"
)

// Relay ties the registry, the diagnostics ticker and the live connection
// handles together and serves the relay endpoint.
type Relay struct {
	cfg         *config.Config
	registry    *Registry
	diagnostics *DiagnosticsTicker
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *Metrics

	clientsCtx     context.Context
	cancelClients  context.CancelFunc
	registryCtx    context.Context
	cancelRegistry context.CancelFunc

	// mu orders admissions against Shutdown: once closing is set no new
	// handle is added to clients.
	mu        sync.Mutex
	closing   bool
	clients   sync.WaitGroup
	startOnce sync.Once
}

// NewRelay creates a Relay from cfg. logger, metrics and clock may be nil.
func NewRelay(cfg *config.Config, logger *slog.Logger, metrics *Metrics, clock clockwork.Clock) *Relay {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	registry := NewRegistry(logger, metrics)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	clientsCtx, cancelClients := context.WithCancel(context.Background())
	registryCtx, cancelRegistry := context.WithCancel(context.Background())

	return &Relay{
		cfg:         cfg,
		registry:    registry,
		diagnostics: NewDiagnosticsTicker(registry, clock, cfg.DiagnosticsInterval),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger:         logger,
		metrics:        metrics,
		clientsCtx:     clientsCtx,
		cancelClients:  cancelClients,
		registryCtx:    registryCtx,
		cancelRegistry: cancelRegistry,
	}
}

// Registry returns the relay's registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Start launches the registry loop and the diagnostics ticker. Calling it
// again has no effect.
func (r *Relay) Start() {
	r.startOnce.Do(func() {
		go r.registry.Run(r.registryCtx)
		go r.diagnostics.Run(r.registryCtx)
		r.logger.Info("Relay started", "diagnostics_interval", r.cfg.DiagnosticsInterval)
	})
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !r.admit() {
		http.Error(w, "Relay is shutting down.", http.StatusServiceUnavailable)
		return
	}
	defer r.clients.Done()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader has already written the error response.
		r.logger.Debug("WebSocket upgrade failed", "addr", req.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, r.registry, req.RemoteAddr, ClientOptions{
		MaxMessageSize:  r.cfg.MaxMessageSize,
		SendBuffer:      r.cfg.SendBuffer,
		RateLimitBurst:  r.cfg.RateLimitBurst,
		RateLimitRefill: r.cfg.RateLimitRefillInterval,
		Logger:          r.logger,
		Metrics:         r.metrics,
	})

	client.Serve(r.clientsCtx)
}

// admit counts a new connection unless shutdown has begun.
func (r *Relay) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.clients.Add(1)
	return true
}

// Shutdown closes every connection, lets the registry process their
// departures, then stops the registry and the ticker. It returns
// context.DeadlineExceeded if that does not finish within timeout.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.logger.Info("Initiating relay shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.cancelClients()

	clientsDone := make(chan struct{})
	go func() {
		r.clients.Wait()
		close(clientsDone)
	}()

	select {
	case <-clientsDone:
	case <-ctx.Done():
		r.cancelRegistry()
		r.logger.Warn("Relay shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}

	// A query round-trip drains the departures queued ahead of it.
	_, _ = r.registry.Connections(ctx)

	r.cancelRegistry()

	select {
	case <-r.registry.Done():
		r.logger.Info("Relay shutdown completed successfully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Relay shutdown timeout reached, registry still running")
		return context.DeadlineExceeded
	}
}
