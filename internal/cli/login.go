package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/BradenHooton/tokenlink/internal/broker"
	"github.com/BradenHooton/tokenlink/internal/models"
)

type loginOptions struct {
	email   string
	qrFile  string
	refresh int
}

func newLoginCommand(a *app) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in by approving a login token from another device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogin(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "Mail a sign-in link to this address instead of showing a QR link")
	cmd.Flags().StringVar(&opts.qrFile, "qr-file", "", "Also write the QR code as a PNG to this path")
	cmd.Flags().IntVar(&opts.refresh, "refresh", 2, "Issue a new token this many times when one expires")
	return cmd
}

func (a *app) newBroker() *broker.Broker {
	var transport broker.PushTransport
	if a.cfg.Push.Enabled {
		transport = a.client
	}
	return broker.New(a.client, transport, a.session, a.clk, broker.Config{
		PollInterval:   a.cfg.PollInterval,
		RequestTimeout: a.cfg.RequestTimeout,
		Retry: broker.RetryPolicy{
			Delay:      a.cfg.Push.RetryDelay,
			MaxRetries: a.cfg.Push.MaxRetries,
		},
		PingInterval: a.cfg.Push.PingInterval,
	}, a.logger)
}

func (a *app) runLogin(ctx context.Context, out io.Writer, opts *loginOptions) error {
	kind := models.ChannelQR
	if opts.email != "" {
		kind = models.ChannelEmail
	}

	b := a.newBroker()
	defer b.Cancel()

	for attempt := 0; ; attempt++ {
		handle, err := b.Start(ctx, kind, opts.email)
		if err != nil {
			return fmt.Errorf("could not get a login token from %s, check server_url and try again: %w", a.cfg.ServerURL, err)
		}
		if err := a.announce(out, handle.Token(), opts); err != nil {
			handle.Cancel()
			return err
		}

		result := a.await(ctx, out, handle)
		if result.State != broker.StateCancelled {
			a.client.Forget(handle.Token().ID)
		}
		switch result.State {
		case broker.StateResolved:
			bundle := result.Confirmation.Bundle
			fmt.Fprintf(out, "Signed in as %s (confirmed via %s).\n", bundle.Email, result.Confirmation.Source)
			return nil
		case broker.StateExpired:
			if attempt < opts.refresh {
				fmt.Fprintln(out, "Login token expired, issuing a new one.")
				continue
			}
			return errors.New("login token expired before it was approved, run `tokenlink login` again")
		case broker.StateCancelled:
			a.withdraw(handle.Token().ID)
			return fmt.Errorf("login cancelled: %w", ctx.Err())
		default:
			if errors.Is(result.Err, models.ErrTokenNotFound) {
				return errors.New("the server does not know this login token, check that server_url points at the server that issued it and try again")
			}
			return fmt.Errorf("login failed, try again: %w", result.Err)
		}
	}
}

func (a *app) announce(out io.Writer, token *models.LoginToken, opts *loginOptions) error {
	if token.Channel == models.ChannelEmail {
		fmt.Fprintf(out, "If %s has an account, a sign-in link is on its way.\n", opts.email)
	} else {
		fmt.Fprintf(out, "Approve this sign-in from a signed-in device:\n  %s\n", a.client.ConfirmURL(token.ID))
		fmt.Fprintf(out, "or run `tokenlink approve %s --code %s` there.\n", token.ID, token.VerifyCode)
	}
	fmt.Fprintf(out, "Verify code: %s\n", token.VerifyCode)

	if opts.qrFile != "" {
		if err := qrcode.WriteFile(a.client.ConfirmURL(token.ID), qrcode.Medium, 256, opts.qrFile); err != nil {
			return fmt.Errorf("failed to write QR code to %s: %w", opts.qrFile, err)
		}
		fmt.Fprintf(out, "QR code written to %s\n", opts.qrFile)
	}
	return nil
}

// await prints a countdown once per second until the token settles. A
// cancelled ctx cancels the token.
func (a *app) await(ctx context.Context, out io.Writer, handle *broker.Handle) broker.Result {
	ticker := a.clk.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-handle.Done():
			fmt.Fprintln(out)
			return handle.Result()
		case <-ticker.C:
			secs := handle.RemainingSeconds()
			fmt.Fprintf(out, "\rWaiting for approval, %d:%02d left ", secs/60, secs%60)
		case <-ctx.Done():
			handle.Cancel()
			<-handle.Done()
			fmt.Fprintln(out)
			return handle.Result()
		}
	}
}

// withdraw tells the server to drop a token the device gave up on. Failure
// only means the token lives until its deadline.
func (a *app) withdraw(tokenID string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	if err := a.client.Cancel(ctx, tokenID); err != nil {
		a.logger.Debug("failed to cancel login token on server", slog.Any("error", err))
	}
}
