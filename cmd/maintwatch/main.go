package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/commands"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	v, c := version, commit
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return fmt.Sprintf("%s (%s)", v, c)
}

func main() {
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "maintwatch",
		Usage:     "Real-time notification client for the maintenance tracker",
		UsageText: "maintwatch [global options] command [command options]",
		Description: `maintwatch keeps a live connection to the maintenance tracker, ranks every
issue, repair and presence event by urgency and keeps them in a local inbox.

Run 'maintwatch run' to start the client. The inbox and settings commands
work on the same store while the client is stopped.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (yaml or json)",
				Sources:     cli.EnvVars("MAINTWATCH_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error)",
				Sources:     cli.EnvVars("MAINTWATCH_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
		},
	}

	app = commands.NewRunCmd(flags).Register(app)
	app = commands.NewInboxCmd(flags).Register(app)
	app = commands.NewSettingsCmd(flags).Register(app)
	app = commands.NewClassifyCmd(flags).Register(app)
	app = commands.NewDecodeCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
