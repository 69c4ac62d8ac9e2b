package pg

import (
	"context"
	"database/sql"
	"errors"

	"stordesk.io/internal/access"
	"stordesk.io/internal/ids"
)

type bucketStore struct {
	db *sql.DB
}

func (st *bucketStore) CreateMapping(ctx context.Context, m *access.RegionBucketMapping) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	err := st.db.QueryRowContext(ctx, `
		insert into region_buckets (id, region, bucket)
		values ($1, $2, $3)
		returning created_at
	`, m.ID, m.Region, m.Bucket).Scan(&m.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (st *bucketStore) GetMapping(ctx context.Context, id string) (*access.RegionBucketMapping, error) {
	m := &access.RegionBucketMapping{}
	err := st.db.QueryRowContext(ctx, `
		select id, region, bucket, created_at
		from region_buckets
		where id = $1
	`, id).Scan(&m.ID, &m.Region, &m.Bucket, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (st *bucketStore) ListMappings(ctx context.Context, page access.Page) ([]access.RegionBucketMapping, int, error) {
	page = page.Clamp()
	var total int
	if err := st.db.QueryRowContext(ctx, `select count(*) from region_buckets`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := st.db.QueryContext(ctx, `
		select id, region, bucket, created_at
		from region_buckets
		order by region, bucket
		limit $1 offset $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var mappings []access.RegionBucketMapping
	for rows.Next() {
		var m access.RegionBucketMapping
		if err := rows.Scan(&m.ID, &m.Region, &m.Bucket, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		mappings = append(mappings, m)
	}
	return mappings, total, rows.Err()
}

func (st *bucketStore) DeleteMapping(ctx context.Context, id string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_bucket_access where mapping_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from region_buckets where id = $1`, id)
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

// SetRoleAccess replaces the role's grant rows with exactly the given set.
func (st *bucketStore) SetRoleAccess(ctx context.Context, roleID string, mappingIDs []string) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_bucket_access where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, mappingID := range mappingIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_bucket_access (role_id, mapping_id) values ($1, $2)
		`, roleID, mappingID); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (st *bucketStore) RoleAccess(ctx context.Context, roleID string) ([]access.RegionBucketMapping, error) {
	var exists int
	err := st.db.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := st.db.QueryContext(ctx, `
		select m.id, m.region, m.bucket, m.created_at
		from region_buckets m
		join role_bucket_access rba on rba.mapping_id = m.id
		where rba.role_id = $1
		order by m.region, m.bucket
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []access.RegionBucketMapping
	for rows.Next() {
		var m access.RegionBucketMapping
		if err := rows.Scan(&m.ID, &m.Region, &m.Bucket, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
