package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrLockedOut        = errors.New("too many failed login attempts")

	// Login token errors. Only ErrIssuerUnavailable and ErrTokenNotFound are
	// meant to reach the user as failures.
	ErrIssuerUnavailable = errors.New("login token could not be issued")
	ErrTokenNotFound     = errors.New("login token is unknown to this server")
	ErrTokenExpired      = errors.New("login token expired")
	ErrTokenAlreadyUsed  = errors.New("login token already confirmed")
)
