package main

import (
	"io"
	"time"

	"github.com/urfave/cli"

	"pathsched/internal/app"
)

const defaultRPCURL = "http://127.0.0.1:8181/rpc"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Value:  "./config.yaml",
		Usage:  "node config file (json or yaml)",
		EnvVar: "PATHSCHED_CONFIG",
	},
	cli.StringFlag{
		Name:   "rpc",
		Value:  defaultRPCURL,
		Usage:  "JSON-RPC endpoint of a running node",
		EnvVar: "PATHSCHED_RPC",
	},
	cli.StringFlag{
		Name:   "token",
		Usage:  "bearer token for the RPC endpoint",
		EnvVar: "PATHSCHED_TOKEN",
	},
	cli.DurationFlag{
		Name:  "timeout",
		Value: 10 * time.Second,
		Usage: "RPC call timeout",
	},
}

// Execute runs the CLI with args (args[0] is the program name).
func Execute(args []string, out io.Writer) error {
	a := cli.NewApp()
	a.Name = "pathsched"
	a.HelpName = "pathsched"
	a.Usage = "recurring path lifecycle scheduler"
	a.UsageText = "pathsched [global options] <command> [arguments...]"
	a.Version = app.Version
	a.Writer = out
	a.Flags = globalFlags
	a.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run a scheduler node",
			Action: serve,
		},
		{
			Name:   "check-config",
			Usage:  "parse and validate the config file, then exit",
			Action: checkConfig,
		},
		{
			Name:      "setup",
			Aliases:   []string{"s"},
			Usage:     "schedule a recurring path",
			UsageText: "pathsched setup [-c cost] [-b bw] (-d HH:MM | -w 1..7 | -m 1..31 | -o HH:MM) [--at HH:MM] src dst type name dd-mm-yyyy duration",
			Flags:     setupFlags,
			Action:    setup,
		},
		{
			Name:      "query",
			Aliases:   []string{"q"},
			Usage:     "show scheduled paths",
			UsageText: "pathsched query [--id source/name | tunnel-id]",
			Flags:     queryFlags,
			Action:    query,
		},
		{
			Name:      "cancel",
			Usage:     "cancel a scheduled path",
			UsageText: "pathsched cancel <source/name | tunnel-id>",
			Action:    cancel,
		},
		{
			Name:   "failed",
			Usage:  "list paths whose setup or release failed",
			Action: failed,
		},
	}
	return a.Run(args)
}
