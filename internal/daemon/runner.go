// Package daemon runs the download service behind its RPC listener and
// manages start, restore and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/internal/server"
	"github.com/warpdl/proxydl/pkg/logger"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultShutdownTimeout bounds how long workers get to pause and the cache
// to be written.
const DefaultShutdownTimeout = 15 * time.Second

// Config holds the configuration for the daemon runner.
type Config struct {
	// ListenAddr is the RPC address. Empty selects common.DefaultListenAddr.
	ListenAddr string

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Zero selects DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Dependencies holds the external dependencies for the daemon runner.
type Dependencies struct {
	// ListenerFactory creates network listeners.
	// If nil, net.Listen is used.
	ListenerFactory func(network, address string) (net.Listener, error)

	Logger logger.Logger
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config *Config
	deps   *Dependencies
	svc    *Service
	srv    *server.Server
	log    logger.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	listener net.Listener
	done     chan struct{}
	err      error
}

// New creates a runner for svc served by srv. The RPC notifier is
// subscribed to the service so WebSocket clients see every event.
func New(svc *Service, srv *server.Server, config *Config, deps *Dependencies) *Runner {
	cfg := applyConfigDefaults(config)
	d := applyDependencyDefaults(deps)
	svc.Subscribe(srv.Notifier())
	return &Runner{
		config: cfg,
		deps:   d,
		svc:    svc,
		srv:    srv,
		log:    logger.OrNop(d.Logger),
	}
}

func applyConfigDefaults(config *Config) *Config {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = common.DefaultListenAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &cfg
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	d := Dependencies{}
	if deps != nil {
		d = *deps
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
	return &d
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Addr returns the bound listener address, or nil when not running.
func (r *Runner) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Start binds the listener, restores the saved cache and serves until ctx
// is canceled, Shutdown is called or the listener fails. It then pauses
// every download and saves the cache before returning.
// Returns ErrAlreadyRunning if the daemon is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)

	// Listen before reporting running so a failed bind leaves no state.
	listener, err := r.deps.ListenerFactory("tcp", r.config.ListenAddr)
	if err != nil {
		r.cancel()
		r.mu.Unlock()
		return err
	}
	r.listener = listener
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- r.srv.Serve(listener)
	}()

	r.svc.Restore(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			r.log.Error("RPC server stopped: %v", runErr)
		}
	}

	stopErr := r.stop()
	// Serve may not have started yet; closing the listener makes it return.
	_ = listener.Close()
	r.mu.Lock()
	r.err = stopErr
	r.running = false
	r.listener = nil
	close(r.done)
	r.mu.Unlock()
	return errors.Join(runErr, stopErr)
}

// stop closes the RPC surface first so no command races the scheduler
// shutdown, then closes the service.
func (r *Runner) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()

	if err := r.srv.Shutdown(ctx); err != nil {
		r.log.Warning("RPC shutdown: %v", err)
	}
	err := r.svc.Close(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrShutdownTimeout
	}
	return err
}

// Shutdown gracefully stops a running daemon and waits for Start to return.
// Returns ErrNotRunning if the daemon is not running and ErrShutdownTimeout
// if the workers did not stop in time.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
