package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/persist"
)

var (
	configDirFlag string
	debugFlag     bool

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config-dir",
			Usage:       "directory holding settings and the cache",
			EnvVar:      persist.ConfigDirEnv,
			Destination: &configDirFlag,
		},
		cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging",
			EnvVar:      common.DebugEnv,
			Destination: &debugFlag,
		},
	}
)

// Per-invocation settings overrides shared by get and daemon.
var (
	dirFlag      string
	maxFlag      int
	proxiesFlag  string
	timeoutFlag  int

	overrideFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "dir, d",
			Usage:       "download directory (default: saved setting)",
			Destination: &dirFlag,
		},
		cli.IntFlag{
			Name:        "max, m",
			Usage:       "maximum concurrent downloads (default: saved setting)",
			Destination: &maxFlag,
		},
		cli.StringFlag{
			Name:        "proxies",
			Usage:       "comma separated proxy list overriding discovery",
			Destination: &proxiesFlag,
		},
		cli.IntFlag{
			Name:        "timeout, t",
			Usage:       "idle timeout per attempt in seconds (default: saved setting)",
			Destination: &timeoutFlag,
		},
	}
)

func configDir() (string, error) {
	if configDirFlag != "" {
		return configDirFlag, nil
	}
	return persist.ConfigDir()
}

func newLogger() *logger.StandardLogger {
	l := logger.NewFromEnv()
	if debugFlag {
		l.EnableDebug()
	}
	return l
}

func openStore(l logger.Logger) (persist.Store, string, error) {
	dir, err := configDir()
	if err != nil {
		return nil, "", err
	}
	st, err := persist.Open(persist.OpenOptions{Dir: dir, Logger: l})
	return st, dir, err
}

// applyOverrides copies the flags the user actually set onto set.
func applyOverrides(ctx *cli.Context, set *persist.Settings) {
	if ctx.IsSet("dir") {
		set.DownloadDir = dirFlag
	}
	if ctx.IsSet("max") {
		set.MaxConcurrent = maxFlag
	}
	if ctx.IsSet("proxies") {
		set.Proxies = proxiesFlag
	}
	if ctx.IsSet("timeout") {
		set.TimeoutSeconds = timeoutFlag
	}
	set.Normalize()
}

// applySetting sets one field addressed by its JSON name.
func applySetting(set *persist.Settings, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s: expected a number, got %q", key, value)
		}
		return n, nil
	}
	var err error
	switch key {
	case "downloadDir":
		set.DownloadDir = value
	case "theme":
		set.Theme, err = atoi()
	case "timeoutSeconds":
		set.TimeoutSeconds, err = atoi()
	case "proxies":
		set.Proxies = value
	case "maxConcurrent":
		set.MaxConcurrent, err = atoi()
	case "proxyDiscoveryUrl":
		set.ProxyDiscoveryURL = value
	case "filterWorkers":
		set.FilterWorkers, err = atoi()
	case "retryAttempts":
		set.RetryAttempts, err = atoi()
	case "storeBackend":
		if value != persist.BackendFile && value != persist.BackendSQLite {
			return fmt.Errorf("%s: expected %q or %q, got %q", key, persist.BackendFile, persist.BackendSQLite, value)
		}
		set.StoreBackend = value
	case "useKeyring":
		set.UseKeyring, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("%s: expected true or false, got %q", key, value)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return err
}

// parseAssignments splits key=value arguments.
func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

// rpcSecret prefers the environment over the token file in the config dir.
func rpcSecret(dir string) (string, error) {
	if s := os.Getenv(common.SecretEnv); s != "" {
		return s, nil
	}
	return persist.ReadSecret(osFs, dir)
}

func listenAddr() string {
	if listenFlag != "" {
		return listenFlag
	}
	if a := os.Getenv(common.ListenAddrEnv); a != "" {
		return a
	}
	return common.DefaultListenAddr
}
