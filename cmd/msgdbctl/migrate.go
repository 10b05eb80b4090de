package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var migrateCommand = &cli.Command{
	Name:   "migrate",
	Usage:  "Apply pending schema versions to the profile database and report the result",
	Before: openStoreExclusive,
	After:  closeStore,
	Action: cmdMigrate,
}

func cmdMigrate(ctx *cli.Context) error {
	// Opening the store already applied pending versions.
	res := getStore(ctx).Schema()
	if ctx.Bool("json") {
		return printJSON(res)
	}
	if res.Changed {
		fmt.Printf("Migrated from version %d to %d\n", res.From, res.Version)
	} else {
		fmt.Printf("Already at version %d\n", res.Version)
	}
	return nil
}
