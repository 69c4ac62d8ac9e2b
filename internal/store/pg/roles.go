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

type roleStore struct {
	db *sql.DB
}

func (st *roleStore) Create(ctx context.Context, role *access.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, role.ID, role.Name, role.Description).
		Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if err := insertRolePermissions(ctx, tx, role.ID, role.PermissionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (st *roleStore) Get(ctx context.Context, id string) (*access.Role, error) {
	role := &access.Role{}
	err := st.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	perms, err := rolePermissionIDs(ctx, st.db, id)
	if err != nil {
		return nil, err
	}
	role.PermissionIDs = perms
	return role, nil
}

func (st *roleStore) List(ctx context.Context, page access.Page) ([]access.Role, int, error) {
	page = page.Clamp()
	var total int
	if err := st.db.QueryRowContext(ctx, `select count(*) from roles`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := st.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		order by name
		limit $1 offset $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var roles []access.Role
	var roleIDs []string
	for rows.Next() {
		var role access.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, 0, err
		}
		roles = append(roles, role)
		roleIDs = append(roleIDs, role.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(roles) == 0 {
		return nil, total, nil
	}

	permRows, err := st.db.QueryContext(ctx, `
		select role_id, permission_id from role_permissions where role_id = any($1)
	`, roleIDs)
	if err != nil {
		return nil, 0, err
	}
	defer permRows.Close()

	byRole := make(map[string][]string)
	for permRows.Next() {
		var roleID, permID string
		if err := permRows.Scan(&roleID, &permID); err != nil {
			return nil, 0, err
		}
		byRole[roleID] = append(byRole[roleID], permID)
	}
	if err := permRows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range roles {
		roles[i].PermissionIDs = byRole[roles[i].ID]
	}
	return roles, total, nil
}

func (st *roleStore) Update(ctx context.Context, id string, upd access.RoleUpdate) (*access.Role, error) {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	setClauses := []string{"updated_at = now()"}
	args := []any{}
	idx := 1
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	args = append(args, id)

	role := &access.Role{}
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		update roles set %s
		where id = $%d
		returning id, name, description, created_at, updated_at
	`, strings.Join(setClauses, ", "), idx), args...).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}

	if upd.PermissionIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertRolePermissions(ctx, tx, id, *upd.PermissionIDs); err != nil {
			return nil, err
		}
		role.PermissionIDs = *upd.PermissionIDs
	} else {
		perms, err := rolePermissionIDs(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		role.PermissionIDs = perms
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return role, nil
}

// Delete removes the role and, in the same transaction, every user
// assignment, bucket grant and permission link keyed by it.
func (st *roleStore) Delete(ctx context.Context, id string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`delete from user_roles where role_id = $1`,
		`delete from role_bucket_access where role_id = $1`,
		`delete from role_permissions where role_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
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

func insertRolePermissions(ctx context.Context, q querier, roleID string, permissionIDs []string) error {
	for _, permID := range permissionIDs {
		if _, err := q.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, permID); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func rolePermissionIDs(ctx context.Context, q querier, roleID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select permission_id from role_permissions where role_id = $1 order by permission_id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permIDs []string
	for rows.Next() {
		var permID string
		if err := rows.Scan(&permID); err != nil {
			return nil, err
		}
		permIDs = append(permIDs, permID)
	}
	return permIDs, rows.Err()
}
