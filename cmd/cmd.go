package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
	"github.com/warpdl/proxydl/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// buildInfo is reported to RPC clients by the daemon.
var buildInfo BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	buildInfo = bArgs
	app := cli.App{
		Name:                  "proxydl",
		HelpName:              "proxydl",
		Usage:                 "A resumable download manager behind rotating proxies.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "proxydl <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:                   "get",
				Aliases:                []string{"g"},
				Usage:                  "download links in the foreground",
				Action:                 get,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            GetDescription,
				Flags:                  getFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "daemon",
				Usage:              "run the download service with its RPC interface",
				Action:             runDaemon,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        DaemonDescription,
				Flags:              daemonFlags,
			},
			{
				Name:               "add",
				Aliases:            []string{"a"},
				Usage:              "add links to a running daemon",
				Action:             add,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        AddDescription,
				Flags:              addFlags,
			},
			{
				Name:               "list",
				Aliases:            []string{"l"},
				Usage:              "list the downloads of a running daemon",
				Action:             list,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        ListDescription,
				Flags:              remoteFlags,
			},
			{
				Name:               "pause",
				Usage:              "pause a download by ID",
				ArgsUsage:          "<id>",
				Action:             pause,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Flags:              remoteFlags,
			},
			{
				Name:               "resume",
				Aliases:            []string{"r"},
				Usage:              "resume a paused download by ID",
				ArgsUsage:          "<id>",
				Action:             resume,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Flags:              remoteFlags,
			},
			{
				Name:               "stop",
				Usage:              "stop a download by ID and discard its partial file",
				ArgsUsage:          "<id>",
				Action:             stop,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Flags:              remoteFlags,
			},
			{
				Name:               "limit",
				Usage:              "change how many downloads a running daemon runs at once",
				ArgsUsage:          "<n>",
				Action:             limit,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Flags:              remoteFlags,
			},
			{
				Name:               "settings",
				Aliases:            []string{"s"},
				Usage:              "show or change the saved settings",
				ArgsUsage:          "[key=value...]",
				Action:             settings,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        SettingsDescription,
			},
			{
				Name:               "cache",
				Usage:              "list downloads saved for resumption",
				Action:             cache,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        CacheDescription,
			},
			{
				Name:               "flush",
				Aliases:            []string{"c"},
				Usage:              "forget every cached download",
				Action:             flush,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        FlushDescription,
				Flags:              flushFlags,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of proxydl",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
