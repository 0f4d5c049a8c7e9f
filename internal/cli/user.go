package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/server/models"
	"github.com/spf13/cobra"
)

func newUserCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd(o), newUserLogoutAllCmd(o))
	return cmd
}

func newUserAddCmd(o *rootOptions) *cobra.Command {
	var (
		username      string
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new user",
		Long: `Register a new user. The password is prompted for twice unless
--password-stdin is given, in which case the first line of stdin is used.`,
		Args: cobra.NoArgs,
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, _ []string) error {
			var (
				password string
				err      error
			)
			if passwordStdin {
				password, err = readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			} else {
				password, err = promptPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			u, err := e.auth.Register(ctx, username, email, password)
			if err != nil {
				return fmt.Errorf("register user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", u.ID, u.Email)
			return nil
		}),
	}

	cmd.Flags().StringVar(&username, "username", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserLogoutAllCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout-all <email>",
		Short: "Revoke every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			u, err := lookupUser(ctx, e, args[0])
			if err != nil {
				return err
			}
			n, err := e.auth.LogoutAll(ctx, u.ID)
			if err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) of %s\n", n, u.Email)
			return nil
		}),
	}
}

func lookupUser(ctx context.Context, e *env, email string) (*models.User, error) {
	u, err := e.auth.FindUserByEmail(ctx, email)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}
