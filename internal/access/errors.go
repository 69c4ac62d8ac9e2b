package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound       = errors.New("access: not found")
	ErrConflict       = errors.New("access: resource conflict")
	ErrInvalidInput   = errors.New("access: invalid input")
	ErrBadCredentials = errors.New("access: invalid credentials")
)

// ValidationError carries field-level detail for administration requests.
// These surface before the authorization boundary and are safe to return.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes ValidationError match ErrInvalidInput in errors.Is chains.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func newValidationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
