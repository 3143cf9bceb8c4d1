package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/tokenlink/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into the model sentinels the
// services switch on. Anything unrecognised is returned unchanged.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
	case "40001", "55P03": // serialization_failure, lock_not_available
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.Message)
	case "23503", "23502", "23514", "22P02": // foreign key, not null, check, invalid text
		return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.Message)
	}
	return err
}

// WithTransaction runs fn inside a transaction, committing when fn returns
// nil and rolling back otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
