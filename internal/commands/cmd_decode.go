package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/priority"
	"maintwatch/internal/wire"
)

type DecodeCmd struct {
	flags *Flags
}

func NewDecodeCmd(flags *Flags) *DecodeCmd {
	return &DecodeCmd{flags: flags}
}

// Register adds the decode command to the application.
func (cmd *DecodeCmd) Register(root *cli.Command) *cli.Command {
	root.Commands = append(root.Commands, &cli.Command{
		Name:      "decode",
		Usage:     "Decode a captured frame and show its event and priority",
		UsageText: "maintwatch decode <file|->",
		Description: `Reads one JSON or CBOR frame from a file (or stdin with "-") and prints
the envelope, the typed event and the tier the classifier assigns.`,
		Action: cmd.run,
	})
	return root
}

type decoded struct {
	Type      wire.Kind     `json:"type"`
	Frame     string        `json:"frame"`
	Timestamp *time.Time    `json:"timestamp,omitempty"`
	Sender    *wire.Sender  `json:"sender,omitempty"`
	Event     wire.Event    `json:"event"`
	Priority  priority.Tier `json:"priority"`
}

func (cmd *DecodeCmd) run(_ context.Context, c *cli.Command) error {
	src := c.Args().First()
	if src == "" {
		return fmt.Errorf("missing input; pass a file or -")
	}
	var (
		data []byte
		err  error
	)
	if src == "-" {
		var r io.Reader = os.Stdin
		if c.Root().Reader != nil {
			r = c.Root().Reader
		}
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	ft := wire.FrameBinary
	if utf8.Valid(data) {
		ft = wire.FrameText
	}
	env, err := wire.Decode(ft, data)
	if err != nil {
		return err
	}
	ev, err := env.Event()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(decoded{
		Type:      env.Type,
		Frame:     ft.String(),
		Timestamp: env.Timestamp,
		Sender:    env.Sender,
		Event:     ev,
		Priority:  priority.Classify(string(env.Type), env.Fields()),
	})
}
