package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
)

var setByID bool

func init() {
	set := newSetCmd()
	set.Flags().BoolVar(&setByID, "id", false, "Look the user up by identity instead of login")
	unset := newUnsetCmd()
	unset.Flags().BoolVar(&setByID, "id", false, "Look the user up by identity instead of login")
	rootCmd.AddCommand(set, unset)
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <login> <key> <value>",
		Short: "Set one attribute directly",
		Long: `The set command assigns one attribute, bypassing the fillable guard.
Setting user_login renames the user and fails if the login is taken.

Example:
  userctl set ann user_email ann@example.org
  userctl set ann user_login annie`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd.Context(), args[0], args[1], args[2])
		},
	}
}

func newUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <login> <key>",
		Short: "Clear one attribute",
		Long: `The unset command sets an attribute to null. Metadata keys are deleted
from the directory.

Example:
  userctl unset ann nickname`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd.Context(), args[0], args[1], nil)
		},
	}
}

func runSet(ctx context.Context, ref, key string, value any) error {
	return withDirectory(ctx, func(dir *dirrecord.Directory) error {
		u, err := findUser(ctx, dir, ref, setByID)
		if err != nil {
			return err
		}
		u.Set(key, value)
		saved, err := u.Save(ctx)
		if err != nil {
			return err
		}
		if !saved {
			return errVetoed
		}
		return report("updated", u)
	})
}
