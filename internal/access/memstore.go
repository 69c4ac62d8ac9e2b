package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stordesk.io/internal/ids"
)

// MemoryStore is an in-memory Store with the same semantics as the
// PostgreSQL implementation: unique keys, referential integrity and
// transactional cascades. A single mutex serializes writes, which satisfies
// the per-aggregate ordering the integrity rules need. Used by tests and
// single-node development runs.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]User
	roles       map[string]Role
	permissions map[string]Permission
	mappings    map[string]RegionBucketMapping

	// role id -> mapping id set
	bucketAccess map[string]map[string]struct{}

	now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        map[string]User{},
		roles:        map[string]Role{},
		permissions:  map[string]Permission{},
		mappings:     map[string]RegionBucketMapping{},
		bucketAccess: map[string]map[string]struct{}{},
		now:          time.Now,
	}
}

func (m *MemoryStore) Users() UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Roles() RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Permissions() PermissionStore { return (*memPermissions)(m) }
func (m *MemoryStore) Buckets() BucketStore         { return (*memBuckets)(m) }

// --- users ---

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return fmt.Errorf("%w: username %s", ErrConflict, u.Username)
		}
	}
	for _, roleID := range u.RoleIDs {
		if _, ok := m.roles[roleID]; !ok {
			return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := m.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = cloneUser(*u)
	return nil
}

func (m *memUsers) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneUser(u)
	return &out, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			out := cloneUser(u)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(_ context.Context, page Page) ([]User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	return paginate(all, page), len(all), nil
}

func (m *memUsers) Update(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.RoleIDs != nil {
		for _, roleID := range *upd.RoleIDs {
			if _, ok := m.roles[roleID]; !ok {
				return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
			}
		}
		u.RoleIDs = append([]string(nil), *upd.RoleIDs...)
	}
	u.UpdatedAt = m.now().UTC()
	m.users[id] = cloneUser(u)
	out := cloneUser(u)
	return &out, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

// --- roles ---

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return fmt.Errorf("%w: role name %s", ErrConflict, role.Name)
		}
	}
	for _, permID := range role.PermissionIDs {
		if _, ok := m.permissions[permID]; !ok {
			return fmt.Errorf("%w: permission %s", ErrNotFound, permID)
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := m.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	m.roles[role.ID] = cloneRole(*role)
	return nil
}

func (m *memRoles) Get(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRole(role)
	return &out, nil
}

func (m *memRoles) List(_ context.Context, page Page) ([]Role, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		all = append(all, cloneRole(role))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return paginate(all, page), len(all), nil
}

func (m *memRoles) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		for otherID, other := range m.roles {
			if otherID != id && other.Name == *upd.Name {
				return nil, fmt.Errorf("%w: role name %s", ErrConflict, *upd.Name)
			}
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.PermissionIDs != nil {
		for _, permID := range *upd.PermissionIDs {
			if _, ok := m.permissions[permID]; !ok {
				return nil, fmt.Errorf("%w: permission %s", ErrNotFound, permID)
			}
		}
		role.PermissionIDs = append([]string(nil), *upd.PermissionIDs...)
	}
	role.UpdatedAt = m.now().UTC()
	m.roles[id] = cloneRole(role)
	out := cloneRole(role)
	return &out, nil
}

// Delete removes the role and every reference to it in one critical
// section: user role sets and bucket-access rows are never left dangling.
func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for userID, u := range m.users {
		filtered := u.RoleIDs[:0:0]
		for _, roleID := range u.RoleIDs {
			if roleID != id {
				filtered = append(filtered, roleID)
			}
		}
		u.RoleIDs = filtered
		m.users[userID] = u
	}
	delete(m.bucketAccess, id)
	return nil
}

// --- permissions ---

type memPermissions MemoryStore

func (m *memPermissions) Create(_ context.Context, perm *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.Name == perm.Name {
			return fmt.Errorf("%w: permission name %s", ErrConflict, perm.Name)
		}
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	now := m.now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now
	m.permissions[perm.ID] = *perm
	return nil
}

func (m *memPermissions) Get(_ context.Context, id string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perm, ok := m.permissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := perm
	return &out, nil
}

func (m *memPermissions) List(_ context.Context, page Page) ([]Permission, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]Permission, 0, len(m.permissions))
	for _, perm := range m.permissions {
		all = append(all, perm)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return paginate(all, page), len(all), nil
}

func (m *memPermissions) Update(_ context.Context, id string, upd PermissionUpdate) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.permissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		for otherID, other := range m.permissions {
			if otherID != id && other.Name == *upd.Name {
				return nil, fmt.Errorf("%w: permission name %s", ErrConflict, *upd.Name)
			}
		}
		perm.Name = *upd.Name
	}
	if upd.Description != nil {
		perm.Description = *upd.Description
	}
	if upd.Resource != nil {
		perm.Resource = *upd.Resource
	}
	if upd.Action != nil {
		perm.Action = *upd.Action
	}
	perm.UpdatedAt = m.now().UTC()
	m.permissions[id] = perm
	out := perm
	return &out, nil
}

func (m *memPermissions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	for roleID, role := range m.roles {
		filtered := role.PermissionIDs[:0:0]
		for _, permID := range role.PermissionIDs {
			if permID != id {
				filtered = append(filtered, permID)
			}
		}
		role.PermissionIDs = filtered
		m.roles[roleID] = role
	}
	return nil
}

func (m *memPermissions) ForRoles(_ context.Context, roleIDs []string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	var perms []Permission
	for _, roleID := range roleIDs {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		for _, permID := range role.PermissionIDs {
			if _, dup := seen[permID]; dup {
				continue
			}
			if perm, ok := m.permissions[permID]; ok {
				seen[permID] = struct{}{}
				perms = append(perms, perm)
			}
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

// --- region buckets ---

type memBuckets MemoryStore

func (m *memBuckets) CreateMapping(_ context.Context, mapping *RegionBucketMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.mappings {
		if existing.Region == mapping.Region && existing.Bucket == mapping.Bucket {
			return fmt.Errorf("%w: mapping %s/%s", ErrConflict, mapping.Region, mapping.Bucket)
		}
	}
	if mapping.ID == "" {
		mapping.ID = ids.New()
	}
	mapping.CreatedAt = m.now().UTC()
	m.mappings[mapping.ID] = *mapping
	return nil
}

func (m *memBuckets) GetMapping(_ context.Context, id string) (*RegionBucketMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.mappings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := mapping
	return &out, nil
}

func (m *memBuckets) ListMappings(_ context.Context, page Page) ([]RegionBucketMapping, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]RegionBucketMapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		all = append(all, mapping)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Region != all[j].Region {
			return all[i].Region < all[j].Region
		}
		return all[i].Bucket < all[j].Bucket
	})
	return paginate(all, page), len(all), nil
}

func (m *memBuckets) DeleteMapping(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[id]; !ok {
		return ErrNotFound
	}
	delete(m.mappings, id)
	for roleID, set := range m.bucketAccess {
		delete(set, id)
		if len(set) == 0 {
			delete(m.bucketAccess, roleID)
		}
	}
	return nil
}

func (m *memBuckets) SetRoleAccess(_ context.Context, roleID string, mappingIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	set := make(map[string]struct{}, len(mappingIDs))
	for _, id := range mappingIDs {
		if _, ok := m.mappings[id]; !ok {
			return fmt.Errorf("%w: mapping %s", ErrNotFound, id)
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		delete(m.bucketAccess, roleID)
		return nil
	}
	m.bucketAccess[roleID] = set
	return nil
}

func (m *memBuckets) RoleAccess(_ context.Context, roleID string) ([]RegionBucketMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	var out []RegionBucketMapping
	for id := range m.bucketAccess[roleID] {
		if mapping, ok := m.mappings[id]; ok {
			out = append(out, mapping)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Bucket < out[j].Bucket
	})
	return out, nil
}

// --- helpers ---

func cloneUser(u User) User {
	u.RoleIDs = append([]string(nil), u.RoleIDs...)
	return u
}

func cloneRole(r Role) Role {
	r.PermissionIDs = append([]string(nil), r.PermissionIDs...)
	return r
}

func paginate[T any](items []T, page Page) []T {
	page = page.Clamp()
	start := page.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[start:end]...)
}
