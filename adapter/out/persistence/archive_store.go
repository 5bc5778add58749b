// Package persistence implements the relational store over sqlx, backed by
// PostgreSQL or SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
)

// Store implements out.Store. All queries are written with ? placeholders
// and rebound per driver, so the same SQL serves both backends.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewStore wraps an open database handle. It fails with
// SCHEMA_UPGRADE_NEEDED when the schema is behind the code; run Migrate
// first.
func NewStore(db *sqlx.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{db: db, log: log}
	if err := s.CheckSchemaVersion(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStoreUnchecked skips the schema version check. For the migrator and
// for tests that build their own schema.
func NewStoreUnchecked(db *sqlx.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// =============================================================================
// Error Translation
// =============================================================================

// isUniqueViolation reports a primary-key or unique-index conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// isForeignKeyViolation reports a missing referenced row.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// isTransient reports connection-level failures worth one retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions, class 40: rollbacks.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "40")
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withTx runs fn in a transaction. Transient failures are retried once
// after a 1-second backoff; the second failure surfaces as
// TRANSIENT_DB_ERROR.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := s.runTx(ctx, fn)
	if err == nil || !isTransient(err) {
		return err
	}
	s.log.Warn().Err(err).Msg("transient database error, retrying once")
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.runTx(ctx, fn); err != nil {
		if isTransient(err) {
			return apperr.ErrTransientDB.WithError(err)
		}
		return err
	}
	return nil
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

var _ out.Store = (*Store)(nil)
