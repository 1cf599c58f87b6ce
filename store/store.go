// Package store holds the plumbing shared by the chat stores: the error
// taxonomy every operation reports, transaction scoping and Postgres error
// classification.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrWriteForbidden      = errors.New("writing forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrDuplicateMembership = errors.New("duplicate membership")
	ErrInsertFailed        = errors.New("insert failed")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Postgres SQLSTATE codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

var (
	// WriteTx is used by every mutation. Authorization gates rely on row
	// locks taken inside the transaction, not on the isolation level.
	WriteTx = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

	// ReadSnapshot is used by reads that need more than one statement.
	ReadSnapshot = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
)

// WithTx borrows a connection from the pool, runs fn inside a transaction and
// commits. The transaction is rolled back on every other exit path.
func WithTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Unavailable classifies a raw driver error. Errors that already carry a
// taxonomy class are returned unchanged.
func Unavailable(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	for _, target := range []error{
		ErrForbidden, ErrWriteForbidden, ErrNotFound, ErrInvalidArgument,
		ErrDuplicateMembership, ErrInsertFailed, ErrStoreUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

func IsForeignKeyViolation(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
