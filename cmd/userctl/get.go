package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
)

var getByID bool

func init() {
	cmd := newGetCmd()
	cmd.Flags().BoolVar(&getByID, "id", false, "Look the user up by identity instead of login")
	rootCmd.AddCommand(cmd)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <login>",
		Short: "Show a user",
		Long: `The get command prints a user's visible attributes. Hidden attributes
such as user_pass are never shown.

Example:
  userctl get ann
  userctl get 42 --id --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), args[0])
		},
	}
}

func runGet(ctx context.Context, ref string) error {
	return withDirectory(ctx, func(dir *dirrecord.Directory) error {
		u, err := findUser(ctx, dir, ref, getByID)
		if err != nil {
			return err
		}
		return printUser(u)
	})
}
