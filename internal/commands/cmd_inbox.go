package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"maintwatch/internal/app"
	"maintwatch/internal/inbox"
	"maintwatch/internal/priority"
)

// InboxCmd implements the maintwatch inbox command group.
type InboxCmd struct {
	flags *Flags

	// list flags
	minPriority string
	unread      bool
	category    string
	limit       int
	jsonOutput  bool
}

func NewInboxCmd(flags *Flags) *InboxCmd {
	return &InboxCmd{flags: flags}
}

// Register adds the inbox command to the application.
func (cmd *InboxCmd) Register(root *cli.Command) *cli.Command {
	root.Commands = append(root.Commands, &cli.Command{
		Name:  "inbox",
		Usage: "Inspect and manage stored notifications",
		Description: `Works directly on the configured store; the daemon does not need to run.

Examples:
  maintwatch inbox list --min-priority high --unread
  maintwatch inbox read 0b6c7e9e-...
  maintwatch inbox read-all
  maintwatch inbox stats`,
		Commands: []*cli.Command{
			cmd.listCmd(),
			cmd.readCmd(),
			cmd.readAllCmd(),
			cmd.rmCmd(),
			cmd.clearCmd(),
			cmd.statsCmd(),
		},
	})
	return root
}

func (cmd *InboxCmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List notifications, newest first",
		UsageText: "maintwatch inbox list [--min-priority <tier>] [--unread] [--category <c>] [--limit n] [--json]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "min-priority",
				Usage:       "only show this tier and above (critical, high, medium, low, info)",
				Destination: &cmd.minPriority,
			},
			&cli.BoolFlag{
				Name:        "unread",
				Usage:       "only show unread notifications",
				Destination: &cmd.unread,
			},
			&cli.StringFlag{
				Name:        "category",
				Usage:       "only show one event category",
				Destination: &cmd.category,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "maximum number of rows (0 = all)",
				Destination: &cmd.limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.runList,
	}
}

func (cmd *InboxCmd) runList(ctx context.Context, c *cli.Command) error {
	f := inbox.Filter{UnreadOnly: cmd.unread, Category: cmd.category, Limit: cmd.limit}
	if cmd.minPriority != "" {
		t, err := priority.ParseTier(cmd.minPriority)
		if err != nil {
			return fmt.Errorf("--min-priority: %w", err)
		}
		f.MinPriority = t
	}

	return cmd.flags.withStores(ctx, func(st *app.Stores) error {
		items := st.Inbox.List(f)
		out := c.Root().Writer
		if cmd.jsonOutput {
			enc := json.NewEncoder(out)
			for _, n := range items {
				if err := enc.Encode(n); err != nil {
					return fmt.Errorf("encode notification: %w", err)
				}
			}
			return nil
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No notifications")
			return nil
		}
		writeTable(out, items)
		return nil
	})
}

func writeTable(out io.Writer, items []inbox.Notification) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tREAD\tTIME\tTITLE\tMESSAGE")
	for _, n := range items {
		read := " "
		if n.Read {
			read = "x"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Priority, read, n.Timestamp.Local().Format(time.DateTime), n.Title, n.Message)
	}
	_ = w.Flush()
}

func (cmd *InboxCmd) readCmd() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Mark one notification as read",
		UsageText: "maintwatch inbox read <id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("missing notification id")
			}
			return cmd.flags.withStores(ctx, func(st *app.Stores) error {
				return st.Inbox.MarkRead(ctx, id)
			})
		},
	}
}

func (cmd *InboxCmd) readAllCmd() *cli.Command {
	return &cli.Command{
		Name:  "read-all",
		Usage: "Mark every notification as read",
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.flags.withStores(ctx, func(st *app.Stores) error {
				n, err := st.Inbox.MarkAllRead(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.Root().Writer, "marked %d notification(s) read\n", n)
				return nil
			})
		},
	}
}

func (cmd *InboxCmd) rmCmd() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove one notification",
		UsageText: "maintwatch inbox rm <id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("missing notification id")
			}
			return cmd.flags.withStores(ctx, func(st *app.Stores) error {
				return st.Inbox.Remove(ctx, id)
			})
		},
	}
}

func (cmd *InboxCmd) clearCmd() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every notification",
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.flags.withStores(ctx, func(st *app.Stores) error {
				return st.Inbox.ClearAll(ctx)
			})
		},
	}
}

func (cmd *InboxCmd) statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show unread and per-priority counts",
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.flags.withStores(ctx, func(st *app.Stores) error {
				out := c.Root().Writer
				_, _ = fmt.Fprintf(out, "total\t%d\nunread\t%d\nurgent\t%d\n",
					st.Inbox.Len(), st.Inbox.UnreadCount(), st.Inbox.UrgentCount())
				counts := st.Inbox.CountByPriority()
				for _, t := range priority.Tiers {
					_, _ = fmt.Fprintf(out, "%s\t%d\n", t, counts[t])
				}
				return nil
			})
		},
	}
}
