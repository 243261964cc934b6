// Package rpcclient talks to a running proxydl daemon over its WebSocket
// JSON-RPC endpoint.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/taskq"
)

const readLimit = 1 << 20

// ErrDaemonUnreachable wraps dial failures.
var ErrDaemonUnreachable = errors.New("daemon is not reachable")

// EventHandler receives pushed download.state and download.progress events.
type EventHandler func(method string, e taskq.Event)

type Options struct {
	// Addr is the daemon's host:port. Empty selects common.DefaultListenAddr.
	Addr   string
	Secret string
	// OnEvent, when set, receives push notifications.
	OnEvent EventHandler
}

type Client struct {
	cli *jrpc2.Client

	mu      sync.RWMutex
	onEvent EventHandler
}

// Dial connects to the daemon and returns a ready client.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	addr := opts.Addr
	if addr == "" {
		addr = common.DefaultListenAddr
	}
	conn, _, err := cws.Dial(ctx, "ws://"+addr+common.RPCWebSocketPath, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + opts.Secret}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrDaemonUnreachable, addr, err)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{onEvent: opts.OnEvent}
	c.cli = jrpc2.NewClient(&wsChannel{conn: conn}, &jrpc2.ClientOptions{
		OnNotify: c.notify,
	})
	return c, nil
}

// SetEventHandler replaces the push notification handler.
func (c *Client) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	c.onEvent = h
	c.mu.Unlock()
}

func (c *Client) notify(req *jrpc2.Request) {
	c.mu.RLock()
	h := c.onEvent
	c.mu.RUnlock()
	if h == nil {
		return
	}
	var e taskq.Event
	if err := req.UnmarshalParams(&e); err != nil {
		return
	}
	switch req.Method() {
	case common.NotifyDownloadState:
		e.Kind = taskq.EventState
	case common.NotifyDownloadProgress:
		e.Kind = taskq.EventProgress
	}
	h(req.Method(), e)
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	return c.cli.Close()
}

func invoke[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	if err := c.cli.CallResult(ctx, method, params, &out); err != nil {
		return out, fmt.Errorf("%s: %w", method, mapError(err))
	}
	return out, nil
}

// mapError turns the daemon's application error codes back into the
// scheduler sentinels so callers can use errors.Is.
func mapError(err error) error {
	var rpcErr *jrpc2.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch int(rpcErr.Code) {
	case common.CodeDownloadNotFound:
		return taskq.ErrTaskNotFound
	case common.CodeInvalidTransition:
		return fmt.Errorf("%w: %s", taskq.ErrInvalidTransition, rpcErr.Message)
	case common.CodeShuttingDown:
		return taskq.ErrShutdown
	}
	return err
}

func (c *Client) Add(ctx context.Context, text, password string) (common.AddResult, error) {
	return invoke[common.AddResult](ctx, c, common.MethodDownloadAdd, common.AddParams{Text: text, Password: password})
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodDownloadPause, common.GIDParam{GID: gid})
	return err
}

func (c *Client) Resume(ctx context.Context, gid string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodDownloadResume, common.GIDParam{GID: gid})
	return err
}

func (c *Client) Stop(ctx context.Context, gid string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodDownloadStop, common.GIDParam{GID: gid})
	return err
}

func (c *Client) Status(ctx context.Context, gid string) (taskq.Info, error) {
	return invoke[taskq.Info](ctx, c, common.MethodDownloadStatus, common.GIDParam{GID: gid})
}

func (c *Client) List(ctx context.Context) ([]taskq.Info, error) {
	res, err := invoke[common.ListResult](ctx, c, common.MethodDownloadList, nil)
	return res.Downloads, err
}

func (c *Client) Settings(ctx context.Context) (persist.Settings, error) {
	return invoke[persist.Settings](ctx, c, common.MethodSettingsGet, nil)
}

func (c *Client) SetConcurrency(ctx context.Context, limit int) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodSettingsSetConcurrency, common.ConcurrencyParam{Limit: limit})
	return err
}

func (c *Client) Version(ctx context.Context) (common.VersionResult, error) {
	return invoke[common.VersionResult](ctx, c, common.MethodSystemVersion, nil)
}

// wsChannel carries jrpc2 messages over a client WebSocket.
type wsChannel struct {
	conn *cws.Conn
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(context.Background(), cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(context.Background())
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}
