package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
	"github.com/acksell/dirrecord/users"
)

var (
	createPassword string
	createEmail    string
	createHashed   bool
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().StringVar(&createPassword, "password", "", "Password, hashed before it is stored")
	cmd.Flags().StringVar(&createEmail, "email", "", "Email address")
	cmd.Flags().BoolVar(&createHashed, "hashed", false, "Store --password verbatim; it is already a bcrypt hash")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <login> [key=value...]",
		Short: "Register a user",
		Long: `The create command registers a user. The login, password and email are
trusted; key=value attributes are mass-assigned and must be fillable.

Example:
  userctl create ann --password s3cret --email ann@example.com
  userctl create bob nickname=bobby first_name=Bob`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), args)
		},
	}
}

func runCreate(ctx context.Context, args []string) error {
	attrs, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	native := map[string]any{users.FieldLogin: args[0]}
	if createPassword != "" {
		native[users.FieldPass] = createPassword
	}
	if createEmail != "" {
		native[users.FieldEmail] = createEmail
	}
	if createHashed {
		ctx = users.WithPasswordAlreadyHashed(ctx)
	}
	return withDirectory(ctx, func(dir *dirrecord.Directory) error {
		u, saved, err := dir.Users.Register(ctx, native, attrs)
		if err != nil {
			return err
		}
		if !saved {
			return errVetoed
		}
		return report("created", u)
	})
}
