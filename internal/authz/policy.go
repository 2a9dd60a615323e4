// Package authz holds the role permission table and the per-role service
// allow-lists that gate every dashboard query.
package authz

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-pulse/internal/models"
)

var (
	// ErrUnauthorized signals that the caller's role lacks the permission token for the action.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrAccessDenied signals that the caller holds the permission but may not see the named service.
	ErrAccessDenied = errors.New("Access denied to this service")
)

// Policy is an immutable role→permission table plus service allow-lists.
// Roles without an allow-list entry may access every service.
type Policy struct {
	permissions map[models.Role]map[string]struct{}
	services    map[models.Role]map[string]struct{}
}

// PolicyFile is the YAML representation accepted by LoadPolicy.
type PolicyFile struct {
	Permissions map[models.Role][]string `yaml:"permissions"`
	Services    map[models.Role][]string `yaml:"services"`
}

// NewPolicy copies the supplied tables so later mutation by the caller has no effect.
func NewPolicy(permissions, services map[models.Role][]string) *Policy {
	p := &Policy{
		permissions: make(map[models.Role]map[string]struct{}, len(permissions)),
		services:    make(map[models.Role]map[string]struct{}, len(services)),
	}
	for role, actions := range permissions {
		p.permissions[role] = toSet(actions)
	}
	for role, names := range services {
		p.services[role] = toSet(names)
	}
	return p
}

// DefaultPolicy returns the built-in three-role table.
func DefaultPolicy() *Policy {
	return NewPolicy(
		map[models.Role][]string{
			models.RoleViewer: {
				models.PermReadMetrics,
				models.PermReadTraces,
			},
			models.RoleEngineer: {
				models.PermReadMetrics,
				models.PermReadTraces,
				models.PermWriteAnnotations,
				models.PermReadAnomalies,
			},
			models.RoleAdmin: {
				models.PermReadMetrics,
				models.PermReadTraces,
				models.PermWriteAnnotations,
				models.PermReadAnomalies,
				models.PermWriteConfig,
				models.PermManageUsers,
			},
		},
		map[models.Role][]string{
			models.RoleViewer: {"api-gateway", "user-service", "search-service"},
		},
	)
}

// LoadPolicy reads a policy from YAML. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(file.Permissions) == 0 {
		return nil, fmt.Errorf("policy %s defines no permissions", path)
	}
	for role := range file.Permissions {
		if !role.Valid() {
			return nil, fmt.Errorf("policy %s: unknown role %q", path, role)
		}
	}
	for role := range file.Services {
		if !role.Valid() {
			return nil, fmt.Errorf("policy %s: unknown role %q in services", path, role)
		}
	}
	return NewPolicy(file.Permissions, file.Services), nil
}

// HasPermission reports whether the user's role grants action. Unknown roles and actions yield false.
func (p *Policy) HasPermission(user models.User, action string) bool {
	if p == nil {
		return false
	}
	actions, ok := p.permissions[user.Role]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// CanAccessService reports whether the user's role may query serviceName.
func (p *Policy) CanAccessService(user models.User, serviceName string) bool {
	if p == nil {
		return false
	}
	allowed, restricted := p.services[user.Role]
	if !restricted {
		return true
	}
	_, ok := allowed[serviceName]
	return ok
}

// Require returns ErrUnauthorized when the user lacks action.
func (p *Policy) Require(user models.User, action string) error {
	if !p.HasPermission(user, action) {
		return ErrUnauthorized
	}
	return nil
}

// RequireService returns ErrAccessDenied when the user may not see serviceName.
func (p *Policy) RequireService(user models.User, serviceName string) error {
	if !p.CanAccessService(user, serviceName) {
		return ErrAccessDenied
	}
	return nil
}

// Permissions lists the sorted permission tokens of a role.
func (p *Policy) Permissions(role models.Role) []string {
	if p == nil {
		return nil
	}
	return sortedKeys(p.permissions[role])
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
