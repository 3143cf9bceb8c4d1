package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/tokenlink/internal/models"
)

func newApproveCommand(a *app) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "approve <token-id>",
		Short: "Approve another device's login token with this device's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.approve(cmd.Context(), args[0], code); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Login approved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Verify code shown on the other device")
	return cmd
}

// approve confirms tokenID. A rejected access token is refreshed once.
func (a *app) approve(ctx context.Context, tokenID, code string) error {
	session, err := a.session.Load()
	if errors.Is(err, ErrNoSession) {
		return errors.New("this device is not signed in, run `tokenlink login` or `tokenlink password` first")
	}
	if err != nil {
		return err
	}

	err = a.client.Confirm(ctx, tokenID, session.Credentials.AccessToken, code)
	if errors.Is(err, models.ErrUnauthorized) {
		bundle, refreshErr := a.client.Refresh(ctx, session.Credentials.RefreshToken)
		if refreshErr != nil {
			return errors.New("this device's session has expired, sign in again and retry")
		}
		if err := a.session.Accept(bundle); err != nil {
			return err
		}
		err = a.client.Confirm(ctx, tokenID, bundle.AccessToken, code)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("login token %s is unknown, check the id", tokenID)
	case errors.Is(err, models.ErrTokenExpired):
		return errors.New("login token expired, start a new login on the other device")
	case errors.Is(err, models.ErrTokenAlreadyUsed):
		return errors.New("login token was already approved")
	case errors.Is(err, models.ErrForbidden):
		return errors.New("verify code does not match, check the code shown on the other device")
	case errors.Is(err, models.ErrUnauthorized):
		return errors.New("the server rejected this device's session, sign in again and retry")
	default:
		return fmt.Errorf("could not reach %s, check server_url and try again: %w", a.cfg.ServerURL, err)
	}
}
