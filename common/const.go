package common

// JSON-RPC method names served by the daemon.
const (
	MethodDownloadAdd    = "download.add"
	MethodDownloadPause  = "download.pause"
	MethodDownloadResume = "download.resume"
	MethodDownloadStop   = "download.stop"
	MethodDownloadStatus = "download.status"
	MethodDownloadList   = "download.list"

	MethodSettingsGet            = "settings.get"
	MethodSettingsSetConcurrency = "settings.setConcurrency"

	MethodSystemVersion = "system.getVersion"
)

// Push notification names broadcast to every connected client.
const (
	NotifyDownloadState    = "download.state"
	NotifyDownloadProgress = "download.progress"
)

// RPCPath and RPCWebSocketPath are the HTTP routes of the JSON-RPC surface.
const (
	RPCPath          = "/jsonrpc"
	RPCWebSocketPath = "/jsonrpc/ws"
)

// Application error codes carried in JSON-RPC error responses.
const (
	CodeDownloadNotFound  = -32001
	CodeInvalidTransition = -32002
	CodeShuttingDown      = -32003
)
