package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/app"
)

type RunCmd struct {
	flags *Flags

	stopTimeout time.Duration
}

func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(root *cli.Command) *cli.Command {
	root.Commands = append(root.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Connect to the server and record notifications",
		UsageText: "maintwatch run [--stop-timeout 15s]",
		Description: `Keeps a WebSocket connection to the maintenance server open, classifies
every event it receives and stores the result in the local inbox.

The process runs until SIGINT or SIGTERM. Logging, identity, alert and
retention settings are reloaded when the config file changes.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "stop-timeout",
				Usage:       "upper bound for graceful shutdown",
				Value:       15 * time.Second,
				Destination: &cmd.stopTimeout,
			},
		},
		Action: cmd.run,
	})
	return root
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	a, err := app.New(ctx, cmd.flags.ConfigPath, app.WithLogLevel(cmd.flags.LogLevel))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.Start(runCtx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigCh:
		reason = app.StopSIGTERM
		if s == syscall.SIGINT {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-ctx.Done():
		reason = app.StopAppStop
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cmd.stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return fmt.Errorf("fatal: %w", err)
		}
	}
	return nil
}
