package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/BradenHooton/tokenlink/internal/broker/httpissuer"
	"github.com/BradenHooton/tokenlink/internal/governor"
	"github.com/BradenHooton/tokenlink/internal/models"
	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

// deviceKey is the single identity the device governor tracks. Failures for
// every email on this device count together.
const deviceKey = "device"

func newPasswordCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPassword(cmd, email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// deviceGovernor opens the lockout store named in the config. The caller
// closes the returned store.
func (a *app) deviceGovernor(ctx context.Context) (*governor.Governor, governor.KeyedStore, error) {
	lc := a.cfg.Lockout
	store, err := governor.NewStore(ctx, governor.StoreConfig{
		Driver: lc.Store,
		Path:   lc.Path,
		Redis: &governor.RedisConfig{
			Addr:   lc.RedisAddr,
			Prefix: "tokenlink:device-lockout:",
		},
		Retention: lc.AttemptWindow + lc.LockoutDuration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open lockout store, check the lockout section of the config: %w", err)
	}

	gov := governor.New(governor.Bind(store, deviceKey), a.clk, governor.Config{
		MaxAttempts:     lc.MaxAttempts,
		AttemptWindow:   lc.AttemptWindow,
		LockoutDuration: lc.LockoutDuration,
	}, a.logger)
	return gov, store, nil
}

func (a *app) runPassword(cmd *cobra.Command, email string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	gov, store, err := a.deviceGovernor(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	decision, err := gov.CheckAllowed(ctx)
	if err != nil {
		// Fail closed: without the counters there is no limit to enforce.
		return fmt.Errorf("could not read the lockout state, try again or use `tokenlink login`: %w", err)
	}
	if !decision.Allowed {
		return fmt.Errorf("%w on this device, try again in %s or use `tokenlink login`",
			models.ErrLockedOut, formatWait(decision.Wait))
	}

	password, err := readPassword(cmd.InOrStdin(), out)
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("no password entered")
	}

	bundle, err := a.client.Login(ctx, email, password)
	if err != nil {
		var apiErr *httpissuer.APIError
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			if recErr := gov.Record(ctx, models.AttemptFailure, email); recErr != nil {
				a.logger.Error("failed to record failed attempt", slog.Any("error", recErr))
			}
			return errors.New("email or password is incorrect, check them and try again")
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w on the server, try again in %s or use `tokenlink login`",
				models.ErrLockedOut, formatWait(apiErr.RetryAfter))
		default:
			return fmt.Errorf("could not reach %s, check server_url and try again: %w", a.cfg.ServerURL, err)
		}
	}

	if err := gov.Record(ctx, models.AttemptSuccess, email); err != nil {
		a.logger.Error("failed to record successful attempt", slog.Any("error", err))
	}
	if err := a.session.Accept(bundle); err != nil {
		return err
	}

	a.logger.Info("password login succeeded", slog.String("email", pkglogger.SanitizedEmail(email)))
	fmt.Fprintf(out, "Signed in as %s.\n", bundle.Email)
	return nil
}

// readPassword reads without echo from a terminal and reads a line
// otherwise.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func formatWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	return d.Round(time.Second).String()
}
