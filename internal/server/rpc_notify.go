package server

import (
	"context"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
)

// DefaultProgressInterval is the minimum spacing between two progress
// pushes for the same download.
const DefaultProgressInterval = 250 * time.Millisecond

// RPCNotifier maintains the set of connected jrpc2 WebSocket servers and
// broadcasts scheduler events to all of them. It is a taskq.Observer.
type RPCNotifier struct {
	mu       sync.RWMutex
	servers  map[*jrpc2.Server]struct{}
	log      logger.Logger
	interval time.Duration
	now      func() time.Time

	// only touched from the scheduler's dispatcher goroutine
	lastProgress map[string]time.Time
}

func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	return &RPCNotifier{
		servers:      make(map[*jrpc2.Server]struct{}),
		log:          logger.OrNop(l),
		interval:     DefaultProgressInterval,
		now:          time.Now,
		lastProgress: make(map[string]time.Time),
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// OnEvent forwards state changes as download.state and progress as
// download.progress, dropping progress that arrives faster than the
// configured interval.
func (n *RPCNotifier) OnEvent(e taskq.Event) {
	switch e.Kind {
	case taskq.EventState:
		if e.State.Terminal() {
			delete(n.lastProgress, e.TaskID)
		}
		n.Broadcast(common.NotifyDownloadState, e)
	case taskq.EventProgress:
		now := n.now()
		if last, ok := n.lastProgress[e.TaskID]; ok && now.Sub(last) < n.interval {
			return
		}
		n.lastProgress[e.TaskID] = now
		n.Broadcast(common.NotifyDownloadProgress, e)
	}
}

// Broadcast sends a push notification to all registered servers.
// Servers that fail to receive are unregistered.
func (n *RPCNotifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), method, params); err != nil {
			n.log.Debug("RPC push %s failed: %v", method, err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// StopAll terminates every connected server. Hijacked WebSocket
// connections are not closed by http.Server.Shutdown.
func (n *RPCNotifier) StopAll() {
	n.mu.Lock()
	servers := n.servers
	n.servers = make(map[*jrpc2.Server]struct{})
	n.mu.Unlock()
	for srv := range servers {
		srv.Stop()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}
