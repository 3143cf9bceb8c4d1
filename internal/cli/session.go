package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BradenHooton/tokenlink/internal/clock"
	"github.com/BradenHooton/tokenlink/internal/models"
)

// ErrNoSession means nobody is signed in on this device.
var ErrNoSession = errors.New("not signed in")

// Session is the content of the session file.
type Session struct {
	ServerURL   string                   `json:"server_url"`
	Credentials *models.CredentialBundle `json:"credentials"`
	SavedAt     time.Time                `json:"saved_at"`
}

// SessionFile stores the signed-in session. It is the broker's session sink.
type SessionFile struct {
	path      string
	serverURL string
	clk       clock.Clock
}

// NewSessionFile creates a sink writing to path.
func NewSessionFile(path, serverURL string, clk clock.Clock) *SessionFile {
	return &SessionFile{path: path, serverURL: serverURL, clk: clk}
}

// Accept replaces the stored session with bundle. The file is owner-only and
// written through a rename so a crash never leaves half a session.
func (f *SessionFile) Accept(bundle *models.CredentialBundle) error {
	if bundle == nil {
		return fmt.Errorf("no credentials to store")
	}
	data, err := json.MarshalIndent(Session{
		ServerURL:   f.serverURL,
		Credentials: bundle,
		SavedAt:     f.clk.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Load returns the stored session or ErrNoSession.
func (f *SessionFile) Load() (*Session, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session file %s is corrupt, run `tokenlink logout`: %w", f.path, err)
	}
	if s.Credentials == nil {
		return nil, ErrNoSession
	}
	return &s, nil
}

// Remove deletes the session. A missing file is not an error.
func (f *SessionFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
