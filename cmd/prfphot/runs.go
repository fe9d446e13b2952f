package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abworrall/prfphot/pkg/store"
)

func NewRunsCommand() *cobra.Command {
	dbPath := ""

	cmd := &cobra.Command{
		Use:   "runs --db file [run-id]",
		Short: "List the fit runs stored in a SQLite file, or print one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return err
				}
				table, err := db.LoadTable(id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), table.String())
				return nil
			}

			runs, err := db.Runs()
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %-25s  %s  %4d cadences  %v\n", r.ID, r.Label, r.Created.Format(time.RFC3339), r.Len, r.Names)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file of stored runs")
	cmd.MarkFlagRequired("db")

	return cmd
}
