package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/app"
	"maintwatch/internal/settings"
)

type SettingsCmd struct {
	flags *Flags
}

func NewSettingsCmd(flags *Flags) *SettingsCmd {
	return &SettingsCmd{flags: flags}
}

// Register adds the settings command to the application.
func (cmd *SettingsCmd) Register(root *cli.Command) *cli.Command {
	root.Commands = append(root.Commands, &cli.Command{
		Name:  "settings",
		Usage: "Show or change notification preferences",
		Description: `Keys: minimumPriority (critical, high, medium, low, info),
priorityFilteringEnabled (bool), soundEnabled (bool).

Examples:
  maintwatch settings show
  maintwatch settings set minimumPriority=high sound=off`,
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print current settings as JSON",
				Action: cmd.runShow,
			},
			{
				Name:      "set",
				Usage:     "Update one or more settings",
				UsageText: "maintwatch settings set key=value [key=value...]",
				Action:    cmd.runSet,
			},
		},
	})
	return root
}

func (cmd *SettingsCmd) runShow(ctx context.Context, c *cli.Command) error {
	return cmd.flags.withStores(ctx, func(st *app.Stores) error {
		return printSettings(c, st.Settings.Get())
	})
}

func (cmd *SettingsCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("nothing to set; expected key=value")
	}
	patch, err := settings.ParseAssignments(c.Args().Slice())
	if err != nil {
		return err
	}
	return cmd.flags.withStores(ctx, func(st *app.Stores) error {
		next, err := st.Settings.Update(ctx, patch)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return printSettings(c, next)
	})
}

func printSettings(c *cli.Command, s settings.Settings) error {
	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
