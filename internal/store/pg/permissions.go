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

type permissionStore struct {
	db *sql.DB
}

func (st *permissionStore) Create(ctx context.Context, perm *access.Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	err := st.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description, resource, action)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, perm.ID, perm.Name, perm.Description, string(perm.Resource), string(perm.Action)).
		Scan(&perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (st *permissionStore) Get(ctx context.Context, id string) (*access.Permission, error) {
	perm := &access.Permission{}
	err := st.db.QueryRowContext(ctx, `
		select id, name, description, resource, action, created_at, updated_at
		from permissions
		where id = $1
	`, id).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return perm, nil
}

func (st *permissionStore) List(ctx context.Context, page access.Page) ([]access.Permission, int, error) {
	page = page.Clamp()
	var total int
	if err := st.db.QueryRowContext(ctx, `select count(*) from permissions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := st.db.QueryContext(ctx, `
		select id, name, description, resource, action, created_at, updated_at
		from permissions
		order by name
		limit $1 offset $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var perm access.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, 0, err
		}
		perms = append(perms, perm)
	}
	return perms, total, rows.Err()
}

func (st *permissionStore) Update(ctx context.Context, id string, upd access.PermissionUpdate) (*access.Permission, error) {
	setClauses := []string{"updated_at = now()"}
	args := []any{}
	idx := 1
	addClause := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		addClause("name", *upd.Name)
	}
	if upd.Description != nil {
		addClause("description", *upd.Description)
	}
	if upd.Resource != nil {
		addClause("resource", string(*upd.Resource))
	}
	if upd.Action != nil {
		addClause("action", string(*upd.Action))
	}
	args = append(args, id)

	perm := &access.Permission{}
	err := st.db.QueryRowContext(ctx, fmt.Sprintf(`
		update permissions set %s
		where id = $%d
		returning id, name, description, resource, action, created_at, updated_at
	`, strings.Join(setClauses, ", "), idx), args...).
		Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return perm, nil
}

// Delete removes the permission and cascades it out of every role's set.
func (st *permissionStore) Delete(ctx context.Context, id string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where permission_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from permissions where id = $1`, id)
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

func (st *permissionStore) ForRoles(ctx context.Context, roleIDs []string) ([]access.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := st.db.QueryContext(ctx, `
		select distinct p.id, p.name, p.description, p.resource, p.action, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = any($1)
		order by p.id
	`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var perm access.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}
