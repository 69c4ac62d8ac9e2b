// Package pg is the Postgres persistence layer: the credential store,
// refresh tokens, the login-attempt window and the audit trail.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/session"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use sqlmock through here).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() access.UserStore             { return &userStore{db: s.db} }
func (s *Store) Roles() access.RoleStore             { return &roleStore{db: s.db} }
func (s *Store) Permissions() access.PermissionStore { return &permissionStore{db: s.db} }
func (s *Store) Buckets() access.BucketStore         { return &bucketStore{db: s.db} }

// RefreshTokens exposes the refresh token half of the session layer.
func (s *Store) RefreshTokens() session.RefreshStore { return &refreshStore{db: s.db} }

// LoginAttempts returns the shared fixed-window counter. Keeping it in the
// database makes the budget hold across serving instances.
func (s *Store) LoginAttempts(window time.Duration) session.AttemptCounter {
	return &attemptCounter{db: s.db, window: window}
}

// AuditTrail exposes the audit recorder.
func (s *Store) AuditTrail() audit.Recorder { return &auditRecorder{db: s.db} }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError folds constraint violations into the store error taxonomy.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
