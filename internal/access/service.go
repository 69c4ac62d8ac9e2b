package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service layers validation and policy over a Store. It is the only write
// path into the credential store.
type Service struct {
	store Store
}

// NewService constructs the administration service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Service{store: store}, nil
}

// CreateUserInput carries the fields accepted when creating a user.
type CreateUserInput struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Status      string
	RoleIDs     []string
}

// UpdateUserInput carries optional changes. A plaintext password here is
// strength-checked and hashed before it reaches the store; nothing ever
// round-trips a plaintext password back out.
type UpdateUserInput struct {
	Email       *string
	DisplayName *string
	Password    *string
	Status      *string
	RoleIDs     *[]string
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name          string
	Description   string
	PermissionIDs []string
}

// UpdateRoleInput carries optional changes to a role.
type UpdateRoleInput struct {
	Name          *string
	Description   *string
	PermissionIDs *[]string
}

// CreatePermissionInput carries the fields accepted when creating a
// permission. Resource and Action are validated against the closed enums.
type CreatePermissionInput struct {
	Name        string
	Description string
	Resource    string
	Action      string
}

// UpdatePermissionInput carries optional changes to a permission.
type UpdatePermissionInput struct {
	Name        *string
	Description *string
	Resource    *string
	Action      *string
}

// Authenticate verifies a username/password pair and resolves the grant
// snapshot for token issuance. Every failure mode collapses into
// ErrBadCredentials so the response never reveals which field was wrong.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, []Grant, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil, ErrBadCredentials
	}
	user, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		return nil, nil, ErrBadCredentials
	}
	if user.Status != UserStatusActive {
		return nil, nil, ErrBadCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrBadCredentials
	}
	grants, err := s.ResolveGrants(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, grants, nil
}

// ResolveGrants computes the effective permission set: the union over the
// user's assigned roles, flattened into (resource, action) pairs. The result
// is captured once per issuance into an immutable claims snapshot.
func (s *Service) ResolveGrants(ctx context.Context, userID string) ([]Grant, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.RoleIDs) == 0 {
		return nil, nil
	}
	perms, err := s.store.Permissions().ForRoles(ctx, user.RoleIDs)
	if err != nil {
		return nil, err
	}
	return GrantSet(perms), nil
}

// --- Users ---

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	fields := map[string]string{}
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		fields["username"] = "is required"
	}
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		fields["email"] = "must be a valid address"
	}
	status := strings.TrimSpace(strings.ToLower(in.Status))
	if status == "" {
		status = UserStatusActive
	}
	if status != UserStatusActive && status != UserStatusInactive {
		fields["status"] = "must be active or inactive"
	}
	if err := CheckPasswordStrength(in.Password); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		for k, v := range ve.Fields {
			fields[k] = v
		}
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        in.Email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Status:       status,
		RoleIDs:      dedupeIDs(in.RoleIDs),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users().Get(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, page Page) ([]User, int, error) {
	return s.store.Users().List(ctx, page.Clamp())
}

func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	upd := UserUpdate{DisplayName: in.DisplayName}
	if in.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*in.Email))
		if email != "" && !strings.Contains(email, "@") {
			return nil, newValidationError(map[string]string{"email": "must be a valid address"})
		}
		upd.Email = &email
	}
	if in.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*in.Status))
		if status != UserStatusActive && status != UserStatusInactive {
			return nil, newValidationError(map[string]string{"status": "must be active or inactive"})
		}
		upd.Status = &status
	}
	if in.Password != nil {
		if err := CheckPasswordStrength(*in.Password); err != nil {
			return nil, err
		}
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		upd.Password = &hash
	}
	if in.RoleIDs != nil {
		roles := dedupeIDs(*in.RoleIDs)
		upd.RoleIDs = &roles
	}
	return s.store.Users().Update(ctx, id, upd)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users().Delete(ctx, id)
}

// --- Roles ---

func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, newValidationError(map[string]string{"name": "is required"})
	}
	role := &Role{
		Name:          in.Name,
		Description:   strings.TrimSpace(in.Description),
		PermissionIDs: dedupeIDs(in.PermissionIDs),
	}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Roles().Get(ctx, id)
}

func (s *Service) ListRoles(ctx context.Context, page Page) ([]Role, int, error) {
	return s.store.Roles().List(ctx, page.Clamp())
}

func (s *Service) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	upd := RoleUpdate{Description: in.Description}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, newValidationError(map[string]string{"name": "is required"})
		}
		upd.Name = &name
	}
	if in.PermissionIDs != nil {
		perms := dedupeIDs(*in.PermissionIDs)
		upd.PermissionIDs = &perms
	}
	return s.store.Roles().Update(ctx, id, upd)
}

// DeleteRole removes the role and, in the same transaction, every user
// assignment and bucket grant keyed by it. No dangling reference survives.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Roles().Delete(ctx, id)
}

// --- Permissions ---

func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (*Permission, error) {
	fields := map[string]string{}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		fields["name"] = "is required"
	}
	resource, err := ParseResource(strings.TrimSpace(strings.ToUpper(in.Resource)))
	if err != nil {
		fields["resource"] = "unknown resource"
	}
	action, err := ParseAction(strings.TrimSpace(strings.ToUpper(in.Action)))
	if err != nil {
		fields["action"] = "unknown action"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}
	perm := &Permission{
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Resource:    resource,
		Action:      action,
	}
	if err := s.store.Permissions().Create(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

func (s *Service) GetPermission(ctx context.Context, id string) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.Permissions().Get(ctx, id)
}

func (s *Service) ListPermissions(ctx context.Context, page Page) ([]Permission, int, error) {
	return s.store.Permissions().List(ctx, page.Clamp())
}

func (s *Service) UpdatePermission(ctx context.Context, id string, in UpdatePermissionInput) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	upd := PermissionUpdate{Description: in.Description}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, newValidationError(map[string]string{"name": "is required"})
		}
		upd.Name = &name
	}
	if in.Resource != nil {
		resource, err := ParseResource(strings.TrimSpace(strings.ToUpper(*in.Resource)))
		if err != nil {
			return nil, newValidationError(map[string]string{"resource": "unknown resource"})
		}
		upd.Resource = &resource
	}
	if in.Action != nil {
		action, err := ParseAction(strings.TrimSpace(strings.ToUpper(*in.Action)))
		if err != nil {
			return nil, newValidationError(map[string]string{"action": "unknown action"})
		}
		upd.Action = &action
	}
	return s.store.Permissions().Update(ctx, id, upd)
}

// DeletePermission removes the permission and cascades it out of every
// role's permission set.
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.store.Permissions().Delete(ctx, id)
}

// --- Region-bucket mappings and grants ---

func (s *Service) CreateMapping(ctx context.Context, region, bucket string) (*RegionBucketMapping, error) {
	fields := map[string]string{}
	region = strings.TrimSpace(region)
	if region == "" {
		fields["region"] = "is required"
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		fields["bucket"] = "is required"
	}
	if err := newValidationError(fields); err != nil {
		return nil, err
	}
	m := &RegionBucketMapping{Region: region, Bucket: bucket}
	if err := s.store.Buckets().CreateMapping(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListMappings(ctx context.Context, page Page) ([]RegionBucketMapping, int, error) {
	return s.store.Buckets().ListMappings(ctx, page.Clamp())
}

func (s *Service) DeleteMapping(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: mapping id is required", ErrInvalidInput)
	}
	return s.store.Buckets().DeleteMapping(ctx, id)
}

// SetRoleBucketAccess replaces the role's grant set with exactly the given
// mapping ids. The input is always the complete desired end state, so
// applying the same set twice converges to the same stored rows.
func (s *Service) SetRoleBucketAccess(ctx context.Context, roleID string, mappingIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Buckets().SetRoleAccess(ctx, roleID, dedupeIDs(mappingIDs))
}

func (s *Service) RoleBucketAccess(ctx context.Context, roleID string) ([]RegionBucketMapping, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Buckets().RoleAccess(ctx, roleID)
}

func dedupeIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
