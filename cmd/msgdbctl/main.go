package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/config"
	"github.com/matheus3301/msgdb/internal/lock"
	"github.com/matheus3301/msgdb/internal/profile"
	"github.com/matheus3301/msgdb/internal/store"
)

type contextKey int

const (
	contextKeyStore contextKey = iota
	contextKeyLock
)

func getStore(ctx *cli.Context) *store.DB {
	return ctx.Context.Value(contextKeyStore).(*store.DB)
}

func profileName(ctx *cli.Context) (string, error) {
	name := profile.Resolve(ctx.String("profile"))
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// openStore opens the profile database for reading. The daemon may be
// running; WAL mode lets both proceed.
func openStore(ctx *cli.Context) error {
	name, err := profileName(ctx)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := ctx.String("db")
	if path == "" {
		path = profile.DBPath(name)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no message store for profile %q: %w", name, err)
	}

	logger := zap.NewNop()
	if ctx.Bool("verbose") {
		logger, _ = zap.NewDevelopment()
	}
	db, err := store.Open(path,
		store.WithLogger(logger),
		store.WithBusyTimeout(cfg.Store.BusyTimeoutMS),
		store.WithDirectory(store.StaticDirectory{
			SelfID:     cfg.Store.SelfRecipientID,
			Persistent: cfg.Store.PersistentRecipients,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyStore, db)
	return nil
}

// openStoreExclusive also takes the profile lock, so writes never race a
// running daemon.
func openStoreExclusive(ctx *cli.Context) error {
	name, err := profileName(ctx)
	if err != nil {
		return err
	}
	l, err := lock.Acquire(profile.Dir(name))
	if err != nil {
		return fmt.Errorf("stop msgdbd first: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyLock, l)
	if err := openStore(ctx); err != nil {
		_ = l.Release()
		return err
	}
	return nil
}

func closeStore(ctx *cli.Context) error {
	if db, ok := ctx.Context.Value(contextKeyStore).(*store.DB); ok {
		_ = db.Close()
	}
	if l, ok := ctx.Context.Value(contextKeyLock).(*lock.Lock); ok {
		_ = l.Release()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:  "msgdbctl",
		Usage: "Inspect and maintain a msgdb message store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Profile name (overrides config default)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to a message database (overrides the profile database)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log store activity to stderr",
			},
		},
		Commands: []*cli.Command{
			statusCommand,
			migrateCommand,
			threadsCommand,
			conversationCommand,
			messageCommand,
			groupsCommand,
			threadCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
