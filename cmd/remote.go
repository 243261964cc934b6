package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/proxydl/cmd/common"
	"github.com/warpdl/proxydl/pkg/rpcclient"
	"github.com/warpdl/proxydl/pkg/taskq"
)

const rpcTimeout = 30 * time.Second

var (
	remoteFlags = listenFlags
	addFlags    = append(append([]cli.Flag(nil), linkFlags...), listenFlags...)
)

// withClient dials the daemon, warns on a version mismatch and runs fn.
// Failures are printed in the usual cmd[action] form.
func withClient(ctx *cli.Context, cmd string, fn func(context.Context, *rpcclient.Client) error) error {
	dir, err := configDir()
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "config_dir", err)
		return nil
	}
	secret, err := rpcSecret(dir)
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "rpc_secret", err)
		return nil
	}
	rctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	client, err := rpcclient.Dial(rctx, rpcclient.Options{Addr: listenAddr(), Secret: secret})
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "dial", err)
		return nil
	}
	defer client.Close()
	client.CheckVersionMismatch(rctx, buildInfo.Version, os.Stderr)
	if err := fn(rctx, client); err != nil {
		common.PrintRuntimeErr(ctx, cmd, cmd, err)
	}
	return nil
}

func add(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	text, err := linkText(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "add", "input_file", err)
		return nil
	}
	if text == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no links provided"))
	}
	return withClient(ctx, "add", func(c context.Context, client *rpcclient.Client) error {
		res, err := client.Add(c, text, passwordFlag)
		if err != nil {
			return err
		}
		printAddResult(len(res.GIDs), res.Errors, res.Alert)
		for _, id := range res.GIDs {
			fmt.Println(id)
		}
		return nil
	})
}

func list(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withClient(ctx, "list", func(c context.Context, client *rpcclient.Client) error {
		infos, err := client.List(c)
		if err != nil {
			return err
		}
		fmt.Print(formatList(infos))
		return nil
	})
}

func fitName(name string, n int) string {
	switch {
	case len(name) > n:
		return name[:n-3] + "..."
	case len(name) < n:
		return common.Beaut(name, n)
	}
	return name
}

func percent(i taskq.Info) string {
	if i.Total <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d%%", i.Transferred*100/i.Total)
}

func formatList(infos []taskq.Info) string {
	if len(infos) == 0 {
		return "proxydl: no downloads found\n"
	}
	txt := "Here are your downloads:"
	txt += "\n\n---------------------------------------------------------------------------------"
	txt += "\n|               ID                 |         Name          |  State   |  Done |"
	txt += "\n|----------------------------------|-----------------------|----------|-------|"
	for _, i := range infos {
		txt += fmt.Sprintf("\n| %s | %s | %s | %s |",
			fitName(i.ID, 32), fitName(i.Name, 21), common.Beaut(i.State.String(), 8), common.Beaut(percent(i), 5))
	}
	txt += "\n---------------------------------------------------------------------------------\n"
	return txt
}

// idCommand runs a single-ID operation against the daemon.
func idCommand(name, done string, op func(*rpcclient.Client, context.Context, string) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "help" {
			return cli.ShowCommandHelp(ctx, ctx.Command.Name)
		}
		if id == "" {
			return common.PrintErrWithCmdHelp(ctx, errors.New("a download ID is required"))
		}
		return withClient(ctx, name, func(c context.Context, client *rpcclient.Client) error {
			if err := op(client, c, id); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", done, id)
			return nil
		})
	}
}

var (
	pause  = idCommand("pause", "Paused", (*rpcclient.Client).Pause)
	resume = idCommand("resume", "Resumed", (*rpcclient.Client).Resume)
	stop   = idCommand("stop", "Stopped", (*rpcclient.Client).Stop)
)

func limit(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("expected a positive number, got %q", arg))
	}
	return withClient(ctx, "limit", func(c context.Context, client *rpcclient.Client) error {
		if err := client.SetConcurrency(c, n); err != nil {
			return err
		}
		fmt.Printf("Running up to %d download(s) at once\n", n)
		return nil
	})
}
