// Package broker runs the client side of a login-token exchange: it issues a
// token, races the push and poll channels against the token's expiry, and
// hands the winning credentials to the session exactly once.
package broker

import (
	"context"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// StatusQuerier answers "has this token been confirmed?". An unknown token
// is reported as models.LoginTokenNotFound, not as an error; errors are
// transient failures.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, tokenID string) (*models.StatusReport, error)
}

// Issuer creates login tokens on the back end.
type Issuer interface {
	StatusQuerier
	Issue(ctx context.Context, kind models.ChannelKind, identityHint string) (*models.LoginToken, error)
}

// PushTransport opens a realtime status stream for one token. Open returns
// an error wrapping models.ErrTokenNotFound when the back end rejects the
// token outright.
type PushTransport interface {
	Open(ctx context.Context, tokenID string) (PushStream, error)
}

// PushStream is one open push connection. Close must be safe to call more
// than once and from any goroutine, and must unblock a pending Next.
type PushStream interface {
	Next() (*models.StatusReport, error)
	Ping() error
	Close() error
}

// SessionSink consumes the credentials of a successful login.
type SessionSink interface {
	Accept(bundle *models.CredentialBundle) error
}

// SessionSinkFunc adapts a function to SessionSink.
type SessionSinkFunc func(bundle *models.CredentialBundle) error

func (f SessionSinkFunc) Accept(bundle *models.CredentialBundle) error {
	return f(bundle)
}
