package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
)

var updateByID bool

func init() {
	cmd := newUpdateCmd()
	cmd.Flags().BoolVar(&updateByID, "id", false, "Look the user up by identity instead of login")
	rootCmd.AddCommand(cmd)
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <login> key=value...",
		Short: "Mass-assign attributes through the fillable guard",
		Long: `The update command fills the given attributes and saves. Every key must
be listed in users.fillable; nothing is written if one is not.

Example:
  userctl update ann nickname=annie last_name=Smith`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), args)
		},
	}
}

func runUpdate(ctx context.Context, args []string) error {
	attrs, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	return withDirectory(ctx, func(dir *dirrecord.Directory) error {
		u, err := findUser(ctx, dir, args[0], updateByID)
		if err != nil {
			return err
		}
		saved, err := u.Update(ctx, attrs)
		if err != nil {
			return err
		}
		if !saved {
			return errVetoed
		}
		return report("updated", u)
	})
}
