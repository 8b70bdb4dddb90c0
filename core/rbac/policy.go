// Package rbac answers "may these roles perform this action" on top of a
// casbin enforcer fed from the roles table.
package rbac

import (
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const modelText = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (r.perm == p.perm || keyMatch(r.perm, p.perm))
`

type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	p.enforcer = newEnforcer(roles)
	return p
}

func newEnforcer(roles []Role) *casbin.Enforcer {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		panic(err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(err)
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			_, _ = e.AddPolicy(role.Name, string(perm))
		}
	}
	return e
}

// Reload replaces the policy set, e.g. after role edits.
func (p *Policy) Reload(roles []Role) {
	e := newEnforcer(roles)
	p.mu.Lock()
	p.enforcer = e
	p.mu.Unlock()
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	for _, role := range roles {
		ok, err := e.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// RolePermissions lists the distinct permissions the given roles hold,
// used to populate the session DTO.
func (p *Policy) RolePermissions(roles []string) []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, role := range roles {
		policies, err := e.GetFilteredPolicy(0, role)
		if err != nil {
			continue
		}
		for _, rule := range policies {
			if len(rule) < 2 {
				continue
			}
			if _, ok := seen[rule[1]]; ok {
				continue
			}
			seen[rule[1]] = struct{}{}
			out = append(out, rule[1])
		}
	}
	return out
}
