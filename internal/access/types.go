package access

import (
	"fmt"
	"time"
)

// Resource identifies a protected domain. The set is closed: permission
// matching is exhaustive over these values, never over free-form strings.
type Resource string

const (
	ResourceUser       Resource = "USER"
	ResourceRole       Resource = "ROLE"
	ResourcePermission Resource = "PERMISSION"
	ResourceFile       Resource = "FILE"
	ResourceStorage    Resource = "STORAGE"
	ResourceConfig     Resource = "CONFIG"

	// ResourceManager is the distinguished super-admin tag: holding any
	// permission on it satisfies every other check.
	ResourceManager Resource = "MANAGER"
)

// Action is the operation a permission allows on its resource.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionList   Action = "LIST"

	// ActionAll matches any action for its resource.
	ActionAll Action = "ALL"

	// ActionAny is the zero value used by callers that only care about the
	// resource. It is never stored.
	ActionAny Action = ""
)

var validResources = map[Resource]struct{}{
	ResourceUser:       {},
	ResourceRole:       {},
	ResourcePermission: {},
	ResourceFile:       {},
	ResourceStorage:    {},
	ResourceConfig:     {},
	ResourceManager:    {},
}

var validActions = map[Action]struct{}{
	ActionCreate: {},
	ActionRead:   {},
	ActionUpdate: {},
	ActionDelete: {},
	ActionList:   {},
	ActionAll:    {},
}

// ParseResource validates a stored or client-supplied resource tag.
func ParseResource(raw string) (Resource, error) {
	r := Resource(raw)
	if _, ok := validResources[r]; !ok {
		return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, raw)
	}
	return r, nil
}

// ParseAction validates a stored or client-supplied action tag.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if _, ok := validActions[a]; !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, raw)
	}
	return a, nil
}

// User statuses. Inactive users keep their history but cannot log in.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// User is a console account. The password hash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Status       string    `json:"status"`
	RoleIDs      []string  `json:"role_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions. Associations are kept as id sets so deletes can
// cascade without chasing embedded object graphs.
type Role struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	PermissionIDs []string  `json:"permission_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Permission is a named (resource, action) capability.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Resource    Resource  `json:"resource"`
	Action      Action    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RegionBucketMapping is an addressable storage location roles can be
// granted access to.
type RegionBucketMapping struct {
	ID        string    `json:"id"`
	Region    string    `json:"region"`
	Bucket    string    `json:"bucket"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant is the flattened (resource, action) pair embedded into session
// claims. It is the only permission shape the evaluator sees.
type Grant struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Page bounds list queries. Unbounded listings are not served.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Clamp normalizes the page to safe bounds.
func (p Page) Clamp() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset returns the row offset for the clamped page.
func (p Page) Offset() int {
	c := p.Clamp()
	return (c.Number - 1) * c.Size
}
