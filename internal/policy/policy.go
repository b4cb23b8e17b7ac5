// Package policy implements the RBAC authorization surface as a pure function
// of (UserContext, set of RolePolicy, datasource, table) — no I/O, no
// network, no database. The wildcard-matching style is grounded on the
// tenant/account-scoping checks in the teacher's command services, which
// compare a requested resource against a caller's allowed scope before
// dispatching.
package policy

import "strings"

// UserContext identifies the caller a request is evaluated for.
type UserContext struct {
	TenantID string
	Role     string
}

// Role is a named set of allowed resources. A resource pattern of "*" allows
// every datasource/table; "ds.*" allows every table within datasource "ds";
// "ds.table" allows exactly that table.
type Role struct {
	Name      string
	Resources []string
}

// Engine evaluates access decisions against a fixed set of roles, keyed by
// role name. Build one per process from configuration; Engine itself is
// stateless and safe for concurrent reads.
type Engine struct {
	roles map[string]Role
}

// NewEngine indexes roles by name. A later role with the same name overwrites
// an earlier one.
func NewEngine(roles []Role) *Engine {
	e := &Engine{roles: make(map[string]Role, len(roles))}
	for _, r := range roles {
		e.roles[r.Name] = r
	}

	return e
}

// Allowed reports whether uc's role grants access to datasource.table.
// An unknown role or a role with no matching pattern denies access — the
// default is deny, never allow.
func (e *Engine) Allowed(uc UserContext, datasource, table string) bool {
	role, ok := e.roles[uc.Role]
	if !ok {
		return false
	}

	resource := datasource + "." + table

	for _, pattern := range role.Resources {
		if matches(pattern, datasource, table, resource) {
			return true
		}
	}

	return false
}

func matches(pattern, datasource, table, resource string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == resource {
		return true
	}

	if strings.HasSuffix(pattern, ".*") {
		return strings.TrimSuffix(pattern, ".*") == datasource
	}

	return false
}

// AllowedResources returns every datasource.table pair uc's role can see out
// of the candidates given, preserving candidate order. Used by
// GetAllowedResources to answer "what can this caller query" without forcing
// every candidate through a separate Allowed call at the API boundary.
func (e *Engine) AllowedResources(uc UserContext, candidates []string) []string {
	role, ok := e.roles[uc.Role]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(candidates))

	for _, resource := range candidates {
		datasource, _, found := strings.Cut(resource, ".")
		if !found {
			continue
		}

		for _, pattern := range role.Resources {
			if matches(pattern, datasource, "", resource) {
				out = append(out, resource)

				break
			}
		}
	}

	return out
}
