package server

import (
	"context"
	"errors"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/persist"
	"github.com/warpdl/proxydl/pkg/taskq"
)

// Custom JSON-RPC error codes for download operations.
const (
	codeDownloadNotFound  = jrpc2.Code(common.CodeDownloadNotFound)
	codeInvalidTransition = jrpc2.Code(common.CodeInvalidTransition)
	codeShuttingDown      = jrpc2.Code(common.CodeShuttingDown)
	codeInvalidParams     = jrpc2.InvalidParams
)

// Backend is the daemon surface the RPC methods drive.
type Backend interface {
	Add(ctx context.Context, text, password string) (common.AddResult, error)
	Pause(id string) error
	Resume(id string) error
	Stop(id string) error
	Info(id string) (taskq.Info, error)
	List() []taskq.Info
	Settings() persist.Settings
	SetConcurrency(limit int) error
}

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret  string // bearer token, empty disables every method
	Version string
	Commit  string
}

// RPCServer holds the method table and the HTTP bridge over it.
type RPCServer struct {
	backend Backend
	version string
	commit  string
	methods handler.Map
	bridge  jhttp.Bridge
}

func NewRPCServer(cfg RPCConfig, b Backend) *RPCServer {
	rs := &RPCServer{
		backend: b,
		version: cfg.Version,
		commit:  cfg.Commit,
	}
	rs.methods = handler.Map{
		common.MethodSystemVersion:          handler.New(rs.systemGetVersion),
		common.MethodDownloadAdd:            handler.New(rs.downloadAdd),
		common.MethodDownloadPause:          handler.New(rs.downloadPause),
		common.MethodDownloadResume:         handler.New(rs.downloadResume),
		common.MethodDownloadStop:           handler.New(rs.downloadStop),
		common.MethodDownloadStatus:         handler.New(rs.downloadStatus),
		common.MethodDownloadList:           handler.New(rs.downloadList),
		common.MethodSettingsGet:            handler.New(rs.settingsGet),
		common.MethodSettingsSetConcurrency: handler.New(rs.settingsSetConcurrency),
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

// Close releases the HTTP bridge.
func (rs *RPCServer) Close() error {
	return rs.bridge.Close()
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (common.VersionResult, error) {
	return common.VersionResult{Version: rs.version, Commit: rs.commit}, nil
}

func (rs *RPCServer) downloadAdd(ctx context.Context, p common.AddParams) (common.AddResult, error) {
	if strings.TrimSpace(p.Text) == "" {
		return common.AddResult{}, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: text"}
	}
	res, err := rs.backend.Add(ctx, p.Text, p.Password)
	if err != nil {
		return common.AddResult{}, rpcError(err)
	}
	return res, nil
}

func (rs *RPCServer) downloadPause(_ context.Context, p common.GIDParam) (common.EmptyResult, error) {
	if err := requireGID(p); err != nil {
		return common.EmptyResult{}, err
	}
	return common.EmptyResult{}, rpcError(rs.backend.Pause(p.GID))
}

func (rs *RPCServer) downloadResume(_ context.Context, p common.GIDParam) (common.EmptyResult, error) {
	if err := requireGID(p); err != nil {
		return common.EmptyResult{}, err
	}
	return common.EmptyResult{}, rpcError(rs.backend.Resume(p.GID))
}

func (rs *RPCServer) downloadStop(_ context.Context, p common.GIDParam) (common.EmptyResult, error) {
	if err := requireGID(p); err != nil {
		return common.EmptyResult{}, err
	}
	return common.EmptyResult{}, rpcError(rs.backend.Stop(p.GID))
}

func (rs *RPCServer) downloadStatus(_ context.Context, p common.GIDParam) (taskq.Info, error) {
	if err := requireGID(p); err != nil {
		return taskq.Info{}, err
	}
	info, err := rs.backend.Info(p.GID)
	if err != nil {
		return taskq.Info{}, rpcError(err)
	}
	return info, nil
}

func (rs *RPCServer) downloadList(_ context.Context) (common.ListResult, error) {
	list := rs.backend.List()
	if list == nil {
		list = []taskq.Info{}
	}
	return common.ListResult{Downloads: list}, nil
}

func (rs *RPCServer) settingsGet(_ context.Context) (persist.Settings, error) {
	return rs.backend.Settings(), nil
}

func (rs *RPCServer) settingsSetConcurrency(_ context.Context, p common.ConcurrencyParam) (common.EmptyResult, error) {
	if p.Limit < 1 {
		return common.EmptyResult{}, &jrpc2.Error{Code: codeInvalidParams, Message: "limit must be at least 1"}
	}
	return common.EmptyResult{}, rpcError(rs.backend.SetConcurrency(p.Limit))
}

func requireGID(p common.GIDParam) error {
	if p.GID == "" {
		return &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: gid"}
	}
	return nil
}

// rpcError maps backend errors onto JSON-RPC error codes. Unknown errors
// are returned as is and reported by jrpc2 as internal errors.
func rpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, taskq.ErrTaskNotFound):
		return &jrpc2.Error{Code: codeDownloadNotFound, Message: "download not found"}
	case errors.Is(err, taskq.ErrInvalidTransition):
		return &jrpc2.Error{Code: codeInvalidTransition, Message: err.Error()}
	case errors.Is(err, taskq.ErrShutdown):
		return &jrpc2.Error{Code: codeShuttingDown, Message: err.Error()}
	}
	return err
}
