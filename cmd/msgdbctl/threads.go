package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/matheus3301/msgdb/internal/expiring"
	"github.com/matheus3301/msgdb/internal/store"
)

var threadsCommand = &cli.Command{
	Name:  "threads",
	Usage: "List conversation summaries, most recent first",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "archived", Usage: "List archived threads instead"},
		&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of threads"},
		&cli.IntFlag{Name: "offset", Usage: "Number of threads to skip"},
	},
	Before: openStore,
	After:  closeStore,
	Action: cmdThreads,
}

var threadCommand = &cli.Command{
	Name:  "thread",
	Usage: "Change thread state (requires msgdbd to be stopped)",
	Subcommands: []*cli.Command{
		threadFlagCommand("archive", "Archive a thread", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.SetArchived(ctx.Context, id, true)
		}),
		threadFlagCommand("unarchive", "Unarchive a thread", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.SetArchived(ctx.Context, id, false)
		}),
		threadFlagCommand("pin", "Pin a thread", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.SetPinned(ctx.Context, id, true)
		}),
		threadFlagCommand("unpin", "Unpin a thread", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.SetPinned(ctx.Context, id, false)
		}),
		threadFlagCommand("read", "Mark every message in a thread read", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.MarkRead(ctx.Context, id)
		}),
		threadFlagCommand("delete", "Delete a thread and its messages", func(t *store.ThreadTable, ctx *cli.Context, id int64) error {
			return t.Delete(ctx.Context, id)
		}),
		pruneExpiredCommand,
	},
}

var pruneExpiredCommand = &cli.Command{
	Name:   "prune-expired",
	Usage:  "Delete disappearing messages whose timer has run out",
	Before: openStoreExclusive,
	After:  closeStore,
	Action: func(ctx *cli.Context) error {
		m := expiring.NewManager(getStore(ctx), time.Second, getStore(ctx).Logger())
		if err := m.Load(ctx.Context); err != nil {
			return err
		}
		n, err := m.Sweep(ctx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d expired message(s), %d still pending\n", n, m.Pending())
		return nil
	},
}

func threadFlagCommand(name, usage string, fn func(*store.ThreadTable, *cli.Context, int64) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "THREAD_ID",
		Before:    openStoreExclusive,
		After:     closeStore,
		Action: func(ctx *cli.Context) error {
			id, err := threadArg(ctx)
			if err != nil {
				return err
			}
			threads := getStore(ctx).Threads()
			if _, err := threads.MustGet(ctx.Context, id); err != nil {
				return err
			}
			return fn(threads, ctx, id)
		},
	}
}

func threadArg(ctx *cli.Context) (int64, error) {
	if ctx.NArg() != 1 {
		return 0, cli.Exit("expected exactly one THREAD_ID", 2)
	}
	id, err := strconv.ParseInt(ctx.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid thread id %q: %w", ctx.Args().First(), err)
	}
	return id, nil
}

func cmdThreads(ctx *cli.Context) error {
	threads, err := getStore(ctx).Threads().List(ctx.Context, ctx.Bool("archived"), ctx.Int("limit"), ctx.Int("offset"))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return printJSON(threads)
	}
	if len(threads) == 0 {
		fmt.Println("No threads.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRECIPIENT\tDATE\tMESSAGES\tUNREAD\tPINNED\tSNIPPET")
	for _, t := range threads {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%t\t%s\n",
			t.ID, t.RecipientID, formatMillis(t.Date), t.MessageCount, t.UnreadCount, t.Pinned, truncate(t.Snippet, 40))
	}
	return w.Flush()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
