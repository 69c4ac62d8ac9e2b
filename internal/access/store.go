package access

import "context"

// Store describes persistence required by the credential store. It holds
// data only; policy lives in Service and the evaluator. Implementations must
// keep every write that touches an association transactional so no caller
// can observe a half-applied cascade.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Buckets() BucketStore
}

// UserUpdate carries optional field changes. Password is a pre-hashed value.
type UserUpdate struct {
	Email       *string
	DisplayName *string
	Password    *string
	Status      *string
	RoleIDs     *[]string
}

// RoleUpdate carries optional field changes for a role.
type RoleUpdate struct {
	Name          *string
	Description   *string
	PermissionIDs *[]string
}

// PermissionUpdate carries optional field changes for a permission.
type PermissionUpdate struct {
	Name        *string
	Description *string
	Resource    *Resource
	Action      *Action
}

// UserStore manages user records and their role id sets.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, page Page) ([]User, int, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) error
}

// RoleStore manages roles. Delete must atomically remove the role from
// every user and every bucket-access row that references it.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Get(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context, page Page) ([]Role, int, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	Delete(ctx context.Context, id string) error
}

// PermissionStore manages the permission catalog. Delete must cascade out
// of every role's permission set.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	Get(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context, page Page) ([]Permission, int, error)
	Update(ctx context.Context, id string, upd PermissionUpdate) (*Permission, error)
	Delete(ctx context.Context, id string) error
	ForRoles(ctx context.Context, roleIDs []string) ([]Permission, error)
}

// BucketStore manages region-bucket mappings and role grants over them.
// SetRoleAccess replaces the full set; absence of rows means deny.
type BucketStore interface {
	CreateMapping(ctx context.Context, m *RegionBucketMapping) error
	GetMapping(ctx context.Context, id string) (*RegionBucketMapping, error)
	ListMappings(ctx context.Context, page Page) ([]RegionBucketMapping, int, error)
	DeleteMapping(ctx context.Context, id string) error
	SetRoleAccess(ctx context.Context, roleID string, mappingIDs []string) error
	RoleAccess(ctx context.Context, roleID string) ([]RegionBucketMapping, error)
}
