package cmd

import (
	"fmt"

	"github.com/urfave/cli"
	"github.com/warpdl/proxydl/cmd/common"
)

var (
	forceFlush bool

	flushFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "force, f",
			Usage:       "flush without asking (default: false)",
			Destination: &forceFlush,
		},
	}
)

func cache(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	store, _, err := openStore(newLogger())
	if err != nil {
		common.PrintRuntimeErr(ctx, "cache", "open_store", err)
		return nil
	}
	defer store.Close()

	entries := store.LoadCache()
	if len(entries) == 0 {
		fmt.Println("proxydl: the cache is empty")
		return nil
	}
	for n, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.URL
		}
		line := fmt.Sprintf("%d. %s  %s  at %d bytes", n+1, name, e.URL, e.ResumeOffset)
		if e.Password != "" {
			line += "  (password set)"
		}
		fmt.Println(line)
	}
	return nil
}

func flush(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if !forceFlush && !confirm("flush the download cache") {
		return nil
	}
	store, _, err := openStore(newLogger())
	if err != nil {
		common.PrintRuntimeErr(ctx, "flush", "open_store", err)
		return nil
	}
	defer store.Close()
	if err := store.SaveCache(nil); err != nil {
		common.PrintRuntimeErr(ctx, "flush", "save_cache", err)
		return nil
	}
	fmt.Println("Flushed the download cache!")
	return nil
}
