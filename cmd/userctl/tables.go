package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
	"github.com/acksell/dirrecord/config"
)

var tablesWait time.Duration

func init() {
	cmd := newTablesCmd()
	cmd.Flags().DurationVar(&tablesWait, "wait", 2*time.Minute, "How long to wait for tables to become active")
	rootCmd.AddCommand(cmd)
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Create the DynamoDB tables",
		Long: `The tables command creates the users and usermeta tables named in the
dynamodb config section. Existing tables are left alone. Other backends
create their storage on first use.

Example:
  userctl tables --backend dynamodb`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(cmd.Context())
		},
	}
}

func runTables(ctx context.Context) error {
	return withDirectory(ctx, func(dir *dirrecord.Directory) error {
		if err := dir.CreateTables(ctx, tablesWait); err != nil {
			return err
		}
		if dir.Backend() != config.BackendDynamoDB {
			fmt.Fprintf(stdout, "nothing to create for %s\n", dir.Backend())
			return nil
		}
		fmt.Fprintln(stdout, "tables ready")
		return nil
	})
}
