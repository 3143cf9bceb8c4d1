package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in account and the password lockout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			session, err := a.session.Load()
			switch {
			case errors.Is(err, ErrNoSession):
				fmt.Fprintln(out, "Not signed in. Run `tokenlink login` to sign in.")
			case err != nil:
				return err
			default:
				creds := session.Credentials
				fmt.Fprintf(out, "Signed in as %s (user %s) on %s.\n", creds.Email, creds.UserID, session.ServerURL)
				if remaining := creds.ExpiresAt.Sub(a.clk.Now()); remaining > 0 {
					fmt.Fprintf(out, "Access token valid for %s.\n", formatWait(remaining))
				} else {
					fmt.Fprintln(out, "Access token expired; it is refreshed on the next approve.")
				}
			}

			gov, store, err := a.deviceGovernor(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			countdown, err := gov.Countdown(ctx)
			if err != nil {
				return fmt.Errorf("could not read the lockout state: %w", err)
			}
			if countdown != nil {
				fmt.Fprintf(out, "Password login locked for %s.\n", formatWait(countdown.Remaining()))
				return nil
			}

			state, err := gov.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("could not read the lockout state: %w", err)
			}
			fmt.Fprintf(out, "Password login available (%d of %d failures used).\n", state.Failures(), a.cfg.Lockout.MaxAttempts)
			return nil
		},
	}
}
