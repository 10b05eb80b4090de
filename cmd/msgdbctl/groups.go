package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

var groupsCommand = &cli.Command{
	Name:   "groups",
	Usage:  "List stored groups",
	Before: openStore,
	After:  closeStore,
	Action: cmdGroups,
}

func cmdGroups(ctx *cli.Context) error {
	groups, err := getStore(ctx).Groups().List(ctx.Context)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return printJSON(groups)
	}
	if len(groups) == 0 {
		fmt.Println("No groups.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tVERSION\tRECIPIENT\tTITLE\tMEMBERS\tUNMIGRATED\tREVISION\tACTIVE")
	for _, g := range groups {
		version := "v1"
		if g.IsV2() {
			version = "v2"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%t\n",
			g.GroupID, version, g.RecipientID, g.Title, len(g.Members), len(g.UnmigratedMembers), g.Revision, g.Active)
	}
	return w.Flush()
}
