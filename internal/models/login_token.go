package models

import "time"

// LoginTokenStatus is the lifecycle state of a login token.
type LoginTokenStatus string

const (
	LoginTokenPending   LoginTokenStatus = "pending"
	LoginTokenConfirmed LoginTokenStatus = "confirmed"
	LoginTokenExpired   LoginTokenStatus = "expired"
	LoginTokenCancelled LoginTokenStatus = "cancelled"

	// LoginTokenNotFound only appears in status reports: the server does
	// not know the token, usually because the client talks to a different
	// back end than the one that issued it.
	LoginTokenNotFound LoginTokenStatus = "not_found"
)

// Terminal reports whether no further transition is allowed.
func (s LoginTokenStatus) Terminal() bool {
	switch s {
	case LoginTokenConfirmed, LoginTokenExpired, LoginTokenCancelled, LoginTokenNotFound:
		return true
	}
	return false
}

// ChannelKind selects how the second factor reaches the user.
type ChannelKind string

const (
	ChannelQR    ChannelKind = "qr"
	ChannelEmail ChannelKind = "email"
)

// LoginToken is a short-lived, single-use login credential.
type LoginToken struct {
	ID         string           `json:"token_id"`
	Channel    ChannelKind      `json:"channel"`
	Status     LoginTokenStatus `json:"status"`
	VerifyCode string           `json:"verify_code,omitempty"`
	IssuedAt   time.Time        `json:"issued_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// TTL is the lifetime the server granted.
func (t *LoginToken) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Expired reports whether the token is past its deadline at now.
func (t *LoginToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// LoginTokenRecord is the server-side row behind a LoginToken.
type LoginTokenRecord struct {
	LoginToken
	VerifySecret   string
	LinkSecretHash *string
	PollSecretHash string
	UserID         *string // bound at issue time for email tokens, at confirm time otherwise
	Credentials    *CredentialBundle
	ConfirmedAt    *time.Time
	ClientIP       string
	UserAgent      string
}

// EffectiveStatus folds the deadline into the stored status.
func (r *LoginTokenRecord) EffectiveStatus(now time.Time) LoginTokenStatus {
	if r.Status == LoginTokenPending && r.Expired(now) {
		return LoginTokenExpired
	}
	return r.Status
}

// StatusReport is the answer to "has this token been confirmed?", shared by
// the poll endpoint and push events.
type StatusReport struct {
	Status      LoginTokenStatus  `json:"status"`
	Credentials *CredentialBundle `json:"credentials,omitempty"`
}

// ConfirmSource records which channel delivered a confirmation.
type ConfirmSource string

const (
	SourcePush ConfirmSource = "push"
	SourcePoll ConfirmSource = "poll"
)

// ConfirmationResult is produced at most once per login token.
type ConfirmationResult struct {
	Bundle *CredentialBundle
	Source ConfirmSource
}
