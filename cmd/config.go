package cmd

const DESCRIPTION = `
proxydl downloads files from a file hosting service through a rotating
pool of proxies. Downloads run a few at a time, survive restarts and
resume where they stopped.
`

const (
	GetDescription = `The get command resolves the given links, downloads them in
the foreground and shows a progress bar per file. Unfinished
downloads are saved to the cache on exit. Folder links expand to
their files; short links are bypassed first.

Example:
        proxydl get https://host.example/?abc https://host.example/dir/xyz
        proxydl get -i links.txt -p secret

`
	DaemonDescription = `The daemon command runs proxydl in the background and serves
the JSON-RPC interface used by add, list, pause, resume, stop
and limit. The cache is restored on start and saved on exit.

Example:
        proxydl daemon
        proxydl daemon --listen 127.0.0.1:7000

`
	AddDescription = `The add command hands links to a running daemon.

Example:
        proxydl add https://host.example/?abc

`
	ListDescription = `The list command shows the downloads of a running daemon
with their IDs, which pause, resume and stop accept.

Example:
        proxydl list

`
	SettingsDescription = `The settings command prints the saved settings, or changes
them when given key=value pairs. Changes are saved immediately.

Keys: downloadDir, theme, timeoutSeconds, proxies, maxConcurrent,
proxyDiscoveryUrl, filterWorkers, retryAttempts, storeBackend,
useKeyring

Example:
        proxydl settings
        proxydl settings maxConcurrent=5 proxies=10.0.0.1:8080

`
	CacheDescription = `The cache command lists downloads saved for resumption.

Example:
        proxydl cache

`
	FlushDescription = `The flush command forgets every cached download. Partial
files on disk are left in place.

Example:
        proxydl flush

`
)
