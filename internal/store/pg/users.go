package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stordesk.io/internal/access"
	"stordesk.io/internal/ids"
)

type userStore struct {
	db *sql.DB
}

func (st *userStore) Create(ctx context.Context, u *access.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users (id, username, password_hash, email, display_name, status)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.Username, u.PasswordHash, u.Email, u.DisplayName, u.Status).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if err := insertUserRoles(ctx, tx, u.ID, u.RoleIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (st *userStore) Get(ctx context.Context, id string) (*access.User, error) {
	return st.getBy(ctx, "id", id)
}

func (st *userStore) GetByUsername(ctx context.Context, username string) (*access.User, error) {
	return st.getBy(ctx, "username", username)
}

func (st *userStore) getBy(ctx context.Context, column, value string) (*access.User, error) {
	u := &access.User{}
	err := st.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, username, password_hash, email, display_name, status, created_at, updated_at
		from users
		where %s = $1
	`, column), value).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.DisplayName, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roles, err := userRoleIDs(ctx, st.db, u.ID)
	if err != nil {
		return nil, err
	}
	u.RoleIDs = roles
	return u, nil
}

func (st *userStore) List(ctx context.Context, page access.Page) ([]access.User, int, error) {
	page = page.Clamp()
	var total int
	if err := st.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := st.db.QueryContext(ctx, `
		select id, username, password_hash, email, display_name, status, created_at, updated_at
		from users
		order by username
		limit $1 offset $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []access.User
	var userIDs []string
	for rows.Next() {
		var u access.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.DisplayName, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		users = append(users, u)
		userIDs = append(userIDs, u.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(users) == 0 {
		return nil, total, nil
	}

	roleRows, err := st.db.QueryContext(ctx, `
		select user_id, role_id from user_roles where user_id = any($1)
	`, userIDs)
	if err != nil {
		return nil, 0, err
	}
	defer roleRows.Close()

	byUser := make(map[string][]string)
	for roleRows.Next() {
		var userID, roleID string
		if err := roleRows.Scan(&userID, &roleID); err != nil {
			return nil, 0, err
		}
		byUser[userID] = append(byUser[userID], roleID)
	}
	if err := roleRows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i].RoleIDs = byUser[users[i].ID]
	}
	return users, total, nil
}

func (st *userStore) Update(ctx context.Context, id string, upd access.UserUpdate) (*access.User, error) {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	setClauses := []string{"updated_at = now()"}
	args := []any{}
	idx := 1
	addClause := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Email != nil {
		addClause("email", *upd.Email)
	}
	if upd.DisplayName != nil {
		addClause("display_name", *upd.DisplayName)
	}
	if upd.Password != nil {
		addClause("password_hash", *upd.Password)
	}
	if upd.Status != nil {
		addClause("status", *upd.Status)
	}
	args = append(args, id)

	u := &access.User{}
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		update users set %s
		where id = $%d
		returning id, username, password_hash, email, display_name, status, created_at, updated_at
	`, strings.Join(setClauses, ", "), idx), args...).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.DisplayName, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}

	if upd.RoleIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertUserRoles(ctx, tx, id, *upd.RoleIDs); err != nil {
			return nil, err
		}
		u.RoleIDs = *upd.RoleIDs
	} else {
		roles, err := userRoleIDs(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		u.RoleIDs = roles
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (st *userStore) Delete(ctx context.Context, id string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return access.ErrNotFound
	}
	return tx.Commit()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUserRoles(ctx context.Context, q querier, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := q.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
		`, userID, roleID); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func userRoleIDs(ctx context.Context, q querier, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select role_id from user_roles where user_id = $1 order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, roleID)
	}
	return roleIDs, rows.Err()
}
