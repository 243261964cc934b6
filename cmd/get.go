package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/proxydl/cmd/common"
	"github.com/warpdl/proxydl/internal/daemon"
	"github.com/warpdl/proxydl/pkg/logger"
	"github.com/warpdl/proxydl/pkg/taskq"
)

var osFs afero.Fs = afero.NewOsFs()

var (
	inputFile    string
	passwordFlag string
	withCache    bool

	linkFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "input-file, i",
			Usage:       "read links from a file, one per line (\"-\" for stdin)",
			Destination: &inputFile,
		},
		cli.StringFlag{
			Name:        "password, p",
			Usage:       "password for private links",
			Destination: &passwordFlag,
		},
	}

	getFlags = append(append([]cli.Flag{
		cli.BoolFlag{
			Name:        "with-cache",
			Usage:       "also resume the downloads saved in the cache (default: false)",
			Destination: &withCache,
		},
	}, linkFlags...), overrideFlags...)
)

// linkText joins positional links and the input file into one block.
func linkText(ctx *cli.Context) (string, error) {
	lines := append([]string(nil), ctx.Args()...)
	if inputFile != "" {
		res, err := ParseInputFile(osFs, inputFile, os.Stdin)
		if err != nil {
			return "", err
		}
		lines = append(lines, res.Text())
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func printAddResult(added int, errs []string, alert string) {
	for _, e := range errs {
		fmt.Println("skipped:", e)
	}
	if alert != "" {
		fmt.Println("alert:", alert)
	}
	fmt.Printf("Added %d download(s)\n", added)
}

func get(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	text, err := linkText(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "get", "input_file", err)
		return nil
	}
	if text == "" && !withCache {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no links provided"))
	}

	l := newLogger()
	store, _, err := openStore(l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "get", "open_store", err)
		return nil
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
		common.PrintRuntimeErr(ctx, "get", "new_service", err)
		return nil
	}
	return runForeground(ctx, svc, text, l)
}

func runForeground(ctx *cli.Context, svc *daemon.Service, text string, l logger.Logger) error {
	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(150*time.Millisecond))
	bars := newBarObserver(p, svc.Info)
	comp := newCompletion()
	svc.Subscribe(bars)
	svc.Subscribe(comp)

	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if withCache {
		if n := svc.Restore(sigCtx); n > 0 {
			fmt.Printf("Resuming %d cached download(s)\n", n)
		}
	}
	if text != "" {
		res, err := svc.Add(sigCtx, text, passwordFlag)
		if err != nil {
			common.PrintRuntimeErr(ctx, "get", "add", err)
		}
		printAddResult(len(res.GIDs), res.Errors, res.Alert)
	}

	ids := make([]string, 0)
	for _, i := range svc.List() {
		ids = append(ids, i.ID)
	}
	if !comp.wait(sigCtx.Done(), ids) {
		fmt.Println("\nInterrupted, saving unfinished downloads...")
	}
	bars.wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), daemon.DefaultShutdownTimeout)
	defer closeCancel()
	summary := svc.List()
	if err := svc.Close(closeCtx); err != nil {
		l.Error("close: %v", err)
	}
	printSummary(summary)
	return nil
}

func printSummary(infos []taskq.Info) {
	var done, failed, saved int
	for _, i := range infos {
		switch {
		case i.State == taskq.Complete:
			done++
		case i.State == taskq.Failed:
			failed++
			fmt.Printf("failed: %s: %s\n", i.Name, i.Reason)
		case !i.State.Terminal():
			saved++
		}
	}
	fmt.Printf("%d complete, %d failed, %d saved for later\n", done, failed, saved)
}
