package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"stordesk.io/internal/session"
)

type refreshStore struct {
	db *sql.DB
}


func (st *refreshStore) Create(ctx context.Context, tok *session.RefreshToken) error {
	_, err := st.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt, tok.Revoked)
	return err
}

func (st *refreshStore) Find(ctx context.Context, id string) (*session.RefreshToken, error) {
	tok := &session.RefreshToken{}
	err := st.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrRefreshNotFound
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// MarkRevoked flips a live record only; zero rows affected means a
// concurrent redeem got there first or the record never existed.
func (st *refreshStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where id = $1 and not revoked
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return session.ErrRefreshNotFound
	}
	return nil
}

func (st *refreshStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := st.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where user_id = $1 and not revoked
	`, userID)
	return err
}

// attemptCounter is the shared fixed-window login throttle. The whole
// window lives in one row per key, so Hit is a single round trip and the
// count is consistent across serving instances.
type attemptCounter struct {
	db     *sql.DB
	window time.Duration
}

func (c *attemptCounter) Hit(ctx context.Context, key string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		insert into login_attempts (key, count, window_started_at)
		values ($1, 1, now())
		on conflict (key) do update
		set count = case
				when login_attempts.window_started_at <= now() - ($2 * interval '1 second') then 1
				else login_attempts.count + 1
			end,
			window_started_at = case
				when login_attempts.window_started_at <= now() - ($2 * interval '1 second') then now()
				else login_attempts.window_started_at
			end
		returning count
	`, key, c.window.Seconds()).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (c *attemptCounter) Reset(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `delete from login_attempts where key = $1`, key)
	return err
}
