// Package server exposes the download daemon over JSON-RPC 2.0: plain
// request/response on POST /jsonrpc and a bidirectional WebSocket on
// /jsonrpc/ws that also carries push notifications.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/logger"
)

// wsReadLimit bounds a single inbound WebSocket message.
const wsReadLimit = 1 << 20

// Config controls the HTTP side of the RPC surface.
type Config struct {
	RPCConfig
	Logger logger.Logger
	// OriginPatterns lists additional hosts allowed to open a WebSocket
	// from a browser. Same-origin requests are always accepted.
	OriginPatterns []string
}

// Server serves the JSON-RPC bridge and the WebSocket endpoint.
type Server struct {
	rpc      *RPCServer
	notifier *RPCNotifier
	secret   string
	origins  []string
	log      logger.Logger

	mu     sync.Mutex
	server *http.Server
}

func New(cfg Config, b Backend) *Server {
	l := logger.OrNop(cfg.Logger)
	return &Server{
		rpc:      NewRPCServer(cfg.RPCConfig, b),
		notifier: NewRPCNotifier(l),
		secret:   cfg.Secret,
		origins:  cfg.OriginPatterns,
		log:      l,
	}
}

// Notifier returns the observer that pushes scheduler events to
// WebSocket clients.
func (s *Server) Notifier() *RPCNotifier {
	return s.notifier
}

// Handler returns the authenticated HTTP handler for both routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+common.RPCPath, s.rpc.bridge)
	mux.HandleFunc("GET "+common.RPCWebSocketPath, s.handleWebSocket)
	return requireToken(s.secret, mux)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warning("websocket accept from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	srv := jrpc2.NewServer(s.rpc.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(&wsChannel{conn: conn, ctx: r.Context()})
	s.notifier.Register(srv)
	defer s.notifier.Unregister(srv)

	s.log.Debug("websocket client %s connected", r.RemoteAddr)
	if err := srv.Wait(); err != nil && !isClosed(err) {
		s.log.Debug("websocket client %s: %v", r.RemoteAddr, err)
	}
	s.log.Debug("websocket client %s disconnected", r.RemoteAddr)
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		cws.CloseStatus(err) == cws.StatusNormalClosure ||
		cws.CloseStatus(err) == cws.StatusGoingAway
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("RPC listening on %s", l.Addr())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes WebSocket sessions and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.notifier.StopAll()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	return errors.Join(err, s.rpc.Close())
}
