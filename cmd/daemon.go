package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/proxydl/cmd/common"
	"github.com/warpdl/proxydl/common"
	"github.com/warpdl/proxydl/internal/daemon"
	"github.com/warpdl/proxydl/internal/server"
	"github.com/warpdl/proxydl/pkg/persist"
)

var (
	listenFlag  string
	originsFlag cli.StringSlice

	listenFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "listen, l",
			Usage:       "RPC address (default: " + common.DefaultListenAddr + ")",
			EnvVar:      common.ListenAddrEnv,
			Destination: &listenFlag,
		},
	}

	daemonFlags = append(append([]cli.Flag{
		cli.StringSliceFlag{
			Name:  "allow-origin",
			Usage: "extra browser origin allowed to open the WebSocket (repeatable)",
			Value: &originsFlag,
		},
	}, listenFlags...), overrideFlags...)
)

func runDaemon(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	l := newLogger()
	store, dir, err := openStore(l)
	if err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "daemon", "open_store", err)
		return nil
	}
	secret := os.Getenv(common.SecretEnv)
	if secret == "" {
		if secret, err = persist.LoadOrCreateSecret(osFs, dir); err != nil {
			_ = store.Close()
			cmdcommon.PrintRuntimeErr(ctx, "daemon", "rpc_secret", err)
			return nil
		}
	}
	set, _ := store.LoadSettings()
	applyOverrides(ctx, &set)

	svc, err := daemon.NewService(daemon.ServiceOptions{
		Store:    store,
		Settings: &set,
		Logger:   l,
	})
	if err != nil {
		_ = store.Close()
		cmdcommon.PrintRuntimeErr(ctx, "daemon", "new_service", err)
		return nil
	}
	srv := server.New(server.Config{
		RPCConfig: server.RPCConfig{
			Secret:  secret,
			Version: buildInfo.Version,
			Commit:  buildInfo.Commit,
		},
		Logger:         l,
		OriginPatterns: originsFlag.Value(),
	}, svc)
	r := daemon.New(svc, srv, &daemon.Config{ListenAddr: listenAddr()}, &daemon.Dependencies{Logger: l})

	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	l.Info("config dir %s, downloads to %s", dir, set.DownloadDir)
	if err := r.Start(sigCtx); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "daemon", "run", err)
	}
	return nil
}
