package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli"
	"github.com/warpdl/proxydl/cmd/common"
	"github.com/warpdl/proxydl/pkg/persist"
)

func settings(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	pairs, err := parseAssignments(ctx.Args())
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	store, _, err := openStore(newLogger())
	if err != nil {
		common.PrintRuntimeErr(ctx, "settings", "open_store", err)
		return nil
	}
	defer store.Close()

	set, _ := store.LoadSettings()
	if len(pairs) > 0 {
		for _, kv := range pairs {
			if err := applySetting(&set, kv[0], kv[1]); err != nil {
				return common.PrintErrWithCmdHelp(ctx, err)
			}
		}
		set.Normalize()
		if err := store.SaveSettings(set); err != nil {
			common.PrintRuntimeErr(ctx, "settings", "save", err)
			return nil
		}
		fmt.Println("Settings saved.")
	}
	return printSettings(set)
}

func printSettings(set persist.Settings) error {
	b, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
