// Package cli implements the tokenlink command: device-side login through a
// login token or a locally rate-limited password.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/tokenlink/internal/broker/httpissuer"
	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/config"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	serverURL  string
	logLevel   string

	clk     clock.Clock
	cfg     *config.ClientConfig
	logger  *slog.Logger
	client  *httpissuer.Client
	session *SessionFile
}

// Execute runs the root command. An interrupt cancels a pending login.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(clock.Real()).ExecuteContext(ctx)
}

// NewRootCommand builds the tokenlink command tree.
func NewRootCommand(clk clock.Clock) *cobra.Command {
	a := &app{clk: clk}

	root := &cobra.Command{
		Use:   "tokenlink",
		Short: "Sign this device in with a login token",
		Long: `tokenlink signs this device in. "login" shows a code and QR link that an
already signed-in device approves; "password" is the fallback and is
rate limited on this device.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.tokenlink/config.yaml)")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "Server URL, overrides server_url")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCommand(a),
		newPasswordCommand(a),
		newApproveCommand(a),
		newStatusCommand(a),
		newLogoutCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		dir, err := config.ClientDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfg, err := config.LoadClient(path)
	if err != nil {
		return fmt.Errorf("%w (fix or remove %s)", err, path)
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	a.client = httpissuer.New(cfg.ServerURL, cfg.RequestTimeout, a.logger)
	a.session = NewSessionFile(cfg.SessionPath, cfg.ServerURL, a.clk)
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
