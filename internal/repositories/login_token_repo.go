package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/tokenlink/internal/database"
	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginTokenRepository persists issued login tokens.
type LoginTokenRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewLoginTokenRepository(db *database.DB) *LoginTokenRepository {
	return &LoginTokenRepository{db: db, pool: db.Pool}
}

const loginTokenColumns = `id, channel, status, verify_secret, link_secret_hash, poll_secret_hash, user_id,
	credentials, client_ip, user_agent, issued_at, expires_at, confirmed_at`

func scanLoginToken(scanner rowScanner) (*models.LoginTokenRecord, error) {
	var rec models.LoginTokenRecord
	var credentials []byte

	err := scanner.Scan(
		&rec.ID, &rec.Channel, &rec.Status, &rec.VerifySecret, &rec.LinkSecretHash, &rec.PollSecretHash, &rec.UserID,
		&credentials, &rec.ClientIP, &rec.UserAgent, &rec.IssuedAt, &rec.ExpiresAt, &rec.ConfirmedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if credentials != nil {
		var bundle models.CredentialBundle
		if err := json.Unmarshal(credentials, &bundle); err != nil {
			return nil, fmt.Errorf("failed to decode stored credentials: %w", err)
		}
		rec.Credentials = &bundle
	}

	return &rec, nil
}

func (r *LoginTokenRepository) Create(ctx context.Context, rec *models.LoginTokenRecord) error {
	query := `
		INSERT INTO login_tokens (id, channel, status, verify_secret, link_secret_hash, poll_secret_hash,
			user_id, client_ip, user_agent, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if rec.Status == "" {
		rec.Status = models.LoginTokenPending
	}

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Channel, rec.Status, rec.VerifySecret, rec.LinkSecretHash, rec.PollSecretHash,
		rec.UserID, rec.ClientIP, rec.UserAgent, rec.IssuedAt, rec.ExpiresAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// GetByID returns models.ErrTokenNotFound for unknown ids.
func (r *LoginTokenRepository) GetByID(ctx context.Context, id string) (*models.LoginTokenRecord, error) {
	query := `SELECT ` + loginTokenColumns + ` FROM login_tokens WHERE id = $1`

	rec, err := scanLoginToken(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTokenNotFound
	}
	return rec, err
}

// Confirm moves a pending, unexpired token to confirmed. The row is locked
// for the duration of the transaction so two racing confirmations cannot
// both succeed. On failure it reports why: ErrTokenNotFound,
// ErrTokenExpired or ErrTokenAlreadyUsed.
func (r *LoginTokenRepository) Confirm(ctx context.Context, id, userID string, bundle *models.CredentialBundle, now time.Time) (*models.LoginTokenRecord, error) {
	credentials, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}

	var confirmed *models.LoginTokenRecord
	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		current, err := scanLoginToken(tx.QueryRow(ctx,
			`SELECT `+loginTokenColumns+` FROM login_tokens WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if status := current.EffectiveStatus(now); status != models.LoginTokenPending {
			return confirmFailure(status)
		}

		query := `
			UPDATE login_tokens
			SET status = 'confirmed', user_id = $2, credentials = $3, confirmed_at = $4
			WHERE id = $1
			RETURNING ` + loginTokenColumns

		confirmed, err = scanLoginToken(tx.QueryRow(ctx, query, id, userID, credentials, now))
		return err
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

func confirmFailure(status models.LoginTokenStatus) error {
	switch status {
	case models.LoginTokenConfirmed:
		return models.ErrTokenAlreadyUsed
	case models.LoginTokenExpired, models.LoginTokenCancelled:
		return models.ErrTokenExpired
	}
	return models.ErrTokenAlreadyUsed
}

// Cancel withdraws a pending token. Settled tokens are left untouched.
func (r *LoginTokenRepository) Cancel(ctx context.Context, id string) error {
	query := `UPDATE login_tokens SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpired removes tokens whose deadline passed before cutoff.
func (r *LoginTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM login_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

