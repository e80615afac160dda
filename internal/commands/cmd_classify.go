package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/priority"
)

type ClassifyCmd struct {
	flags *Flags

	now string
}

func NewClassifyCmd(flags *Flags) *ClassifyCmd {
	return &ClassifyCmd{flags: flags}
}

// Register adds the classify command to the application.
func (cmd *ClassifyCmd) Register(root *cli.Command) *cli.Command {
	root.Commands = append(root.Commands, &cli.Command{
		Name:      "classify",
		Usage:     "Print the priority tier for an event category and payload",
		UsageText: `maintwatch classify <category> ['{"equipmentType":"freezer"}'] [--now 2026-03-02T10:00:00Z]`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "now",
				Usage:       "reference time (RFC3339) for due-date rules",
				Destination: &cmd.now,
			},
		},
		Action: cmd.run,
	})
	return root
}

func (cmd *ClassifyCmd) run(_ context.Context, c *cli.Command) error {
	category := c.Args().First()
	if category == "" {
		return fmt.Errorf("missing category")
	}
	payload := priority.Payload{}
	if raw := c.Args().Get(1); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}

	cl := priority.Classifier{}
	if cmd.now != "" {
		at, err := time.Parse(time.RFC3339, cmd.now)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		cl.Now = func() time.Time { return at }
	}

	_, err := fmt.Fprintln(c.Root().Writer, cl.Classify(category, payload))
	return err
}
