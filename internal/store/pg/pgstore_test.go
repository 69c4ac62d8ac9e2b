package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDeleteCascadesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles where role_id").
		WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from role_bucket_access where role_id").
		WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from role_permissions where role_id").
		WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from roles where id").
		WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Roles().Delete(context.Background(), "r-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectMet(t, mock)
}

func TestRoleDeleteUnknownRoleRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles where role_id").
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from role_bucket_access where role_id").
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from role_permissions where role_id").
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from roles where id").
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Roles().Delete(context.Background(), "ghost")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.Users().Create(context.Background(), &access.User{
		Username:     "alice",
		PasswordHash: "hash",
		Status:       access.UserStatusActive,
	})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestCreateUserMapsUnknownRoleToNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into user_roles").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.Users().Create(context.Background(), &access.User{
		Username:     "alice",
		PasswordHash: "hash",
		Status:       access.UserStatusActive,
		RoleIDs:      []string{"ghost-role"},
	})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestSetRoleAccessReplacesRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles where id").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_bucket_access where role_id").
		WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_bucket_access").
		WithArgs("r-1", "m-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_bucket_access").
		WithArgs("r-1", "m-2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Buckets().SetRoleAccess(context.Background(), "r-1", []string{"m-1", "m-2"}); err != nil {
		t.Fatalf("SetRoleAccess: %v", err)
	}
	expectMet(t, mock)
}

func TestAttemptCounterHitReturnsWindowCount(t *testing.T) {
	store, mock := newMockStore(t)
	counter := store.LoginAttempts(time.Minute)

	mock.ExpectQuery("insert into login_attempts").
		WithArgs("alice|10.0.0.1", float64(60)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := counter.Hit(context.Background(), "alice|10.0.0.1")
	if err != nil {
		t.Fatalf("Hit: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
	expectMet(t, mock)
}

func TestRefreshFindUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, user_id, token_hash").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}))

	if _, err := store.RefreshTokens().Find(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown token")
	}
	expectMet(t, mock)
}

func TestRefreshCreateAndRevoke(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	tok := &session.RefreshToken{
		ID:        "t-1",
		UserID:    "u-1",
		TokenHash: "hash",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked = true where id").
		WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked = true where id").
		WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RefreshTokens().Create(context.Background(), tok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.RefreshTokens().MarkRevoked(context.Background(), "t-1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	// The update matches live rows only; a repeat revocation affects zero
	// rows and must surface as a spent token.
	if err := store.RefreshTokens().MarkRevoked(context.Background(), "t-1"); !errors.Is(err, session.ErrRefreshNotFound) {
		t.Fatalf("expected ErrRefreshNotFound for spent token, got %v", err)
	}
	expectMet(t, mock)
}

func TestAuditListAppliesFilters(t *testing.T) {
	store, mock := newMockStore(t)

	ts := time.Now().UTC()
	mock.ExpectQuery("select count\\(\\*\\) from audit_events").
		WithArgs("u-1", "auth.login").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("select id, ts, coalesce").
		WithArgs("u-1", "auth.login", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ts", "user_id", "username", "action",
			"resource_type", "resource_id", "details", "source_ip", "user_agent", "status",
		}).AddRow("e-1", ts, "u-1", "alice", "auth.login", "", "", []byte(`{"reason":"bad credentials"}`), "10.0.0.1", "test", "failure"))

	events, total, err := store.AuditTrail().List(context.Background(), audit.Filter{
		UserID: "u-1",
		Action: "auth.login",
	}, access.Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("expected one event, got total=%d len=%d", total, len(events))
	}
	if events[0].Details["reason"] != "bad credentials" {
		t.Fatalf("details not decoded: %+v", events[0])
	}
	expectMet(t, mock)
}
