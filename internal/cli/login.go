package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gosuda/collaboard/internal/client"
)

func newLoginCmd(app *App) *cobra.Command {
	var user, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("COLLABOARD_PASSWORD")
			}
			if password == "" {
				return writeErr(cmd, errors.New("password required (--password or COLLABOARD_PASSWORD)"))
			}

			c := client.New(app.ServerURL, app.Timeout)
			token, err := c.Login(cmd.Context(), user, password)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := app.saveSession(token); err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", user)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Login name")
	cmd.Flags().StringVar(&password, "password", "", "Password (default $COLLABOARD_PASSWORD)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := os.Remove(filepath.Join(app.DataDir, sessionFile))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return writeErr(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}
