package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/matheus3301/msgdb/internal/groups"
	"github.com/matheus3301/msgdb/internal/msgtype"
	"github.com/matheus3301/msgdb/internal/store"
)

var conversationCommand = &cli.Command{
	Name:      "conversation",
	Usage:     "Show the merged text and media history of a thread, newest first",
	ArgsUsage: "THREAD_ID",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of messages (0 for all)"},
		&cli.IntFlag{Name: "offset", Usage: "Number of messages to skip"},
	},
	Before: openStore,
	After:  closeStore,
	Action: cmdConversation,
}

var messageCommand = &cli.Command{
	Name:      "message",
	Usage:     "Show one message and the receipts recorded for it",
	ArgsUsage: "text|media MESSAGE_ID",
	Before:    openStore,
	After:     closeStore,
	Action:    cmdMessage,
}

func cmdConversation(ctx *cli.Context) error {
	id, err := threadArg(ctx)
	if err != nil {
		return err
	}
	db := getStore(ctx)
	msgs, err := db.ConversationMessages(ctx.Context, id, ctx.Int("offset"), ctx.Int("limit"))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return printJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRECEIVED\tDIR\tRECIPIENT\tRECEIPTS\tBODY")
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, formatMillis(m.DateReceived), direction(m.Type), m.RecipientID, receiptSummary(m), truncate(m.Body, 50))
	}
	return w.Flush()
}

type messageOutput struct {
	*store.Message
	Receipts  map[string][]int64      `json:"receipts"`
	Migration *groups.MigrationChange `json:"migration,omitempty"`
}

func cmdMessage(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("expected TRANSPORT and MESSAGE_ID", 2)
	}
	transport := store.Transport(ctx.Args().Get(0))
	if transport != store.TransportText && transport != store.TransportMedia {
		return fmt.Errorf("unknown transport %q", transport)
	}
	id, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", ctx.Args().Get(1), err)
	}

	table := getStore(ctx).Messages(transport)
	m, err := table.Get(ctx.Context, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("message %s:%d not found", transport, id)
	}
	receipts, err := table.MessageReceipts(ctx.Context, id)
	if err != nil {
		return err
	}
	out := messageOutput{Message: m, Receipts: make(map[string][]int64, len(receipts))}
	for kind, authors := range receipts {
		out.Receipts[kind.String()] = authors
	}
	if m.Type.IsGV1Migration() {
		change := groups.DecodeMigrationChange(m, getStore(ctx).Logger())
		out.Migration = &change
	}

	if ctx.Bool("json") {
		return printJSON(out)
	}
	fmt.Printf("ID:        %s\n", m.ID)
	fmt.Printf("Thread:    %d\n", m.ThreadID)
	fmt.Printf("Recipient: %d\n", m.RecipientID)
	fmt.Printf("Type:      %#x (%s)\n", uint64(m.Type), direction(m.Type))
	fmt.Printf("Sent:      %s\n", formatMillis(m.DateSent))
	fmt.Printf("Received:  %s\n", formatMillis(m.DateReceived))
	fmt.Printf("Read:      %t\n", m.Read)
	if m.ExpiresIn > 0 {
		fmt.Printf("Expires:   %dms after %s\n", m.ExpiresIn, formatMillis(m.ExpireStarted))
	}
	for _, a := range m.Attachments {
		fmt.Printf("Attachment: %s %s (%d bytes)\n", a.ContentType, a.FileName, a.Size)
	}
	for kind, authors := range out.Receipts {
		fmt.Printf("Receipts (%s): %v\n", kind, authors)
	}
	if out.Migration != nil {
		fmt.Printf("Migration: dropped %v, invited %v\n", out.Migration.Dropped, out.Migration.Invited)
	}
	fmt.Printf("\n%s\n", m.Body)
	return nil
}

func direction(t msgtype.Type) string {
	if t.IsOutgoing() {
		return "out"
	}
	return "in"
}

func receiptSummary(m *store.Message) string {
	if !m.Type.IsOutgoing() {
		return "-"
	}
	return fmt.Sprintf("d%d r%d v%d", m.DeliveryReceiptCount, m.ReadReceiptCount, m.ViewedReceiptCount)
}
