package pairing

import (
	"fmt"
	"strings"

	"coordinator/internal/core/domain"
)

// CompatibilityFunc reports whether two declared roles may be paired.
// It must be symmetric.
type CompatibilityFunc func(a, b domain.Role) bool

// OppositeRoles pairs any two distinct roles.
func OppositeRoles(a, b domain.Role) bool {
	return a != b
}

// Policy resolves role announcements and decides role compatibility.
type Policy struct {
	order   []domain.Role
	roles   map[domain.Role]struct{}
	aliases map[string]domain.Role
	pairs   map[[2]domain.Role]struct{}
}

// DefaultPolicy pairs wearables with robots. The AR client announces itself
// as "spectacles", which is accepted as an alias of wearable.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(
		[]domain.Role{domain.RoleWearable, domain.RoleRobot},
		map[string]domain.Role{"spectacles": domain.RoleWearable},
		[][2]domain.Role{{domain.RoleWearable, domain.RoleRobot}},
	)
	return p
}

// NewPolicy builds a policy. When pairs is empty any two distinct roles are
// compatible.
func NewPolicy(roles []domain.Role, aliases map[string]domain.Role, pairs [][2]domain.Role) (*Policy, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}

	p := &Policy{
		roles:   make(map[domain.Role]struct{}, len(roles)),
		aliases: make(map[string]domain.Role, len(aliases)),
		pairs:   make(map[[2]domain.Role]struct{}, len(pairs)*2),
	}
	for _, r := range roles {
		if r == "" {
			return nil, fmt.Errorf("role must not be empty")
		}
		if _, dup := p.roles[r]; !dup {
			p.order = append(p.order, r)
		}
		p.roles[r] = struct{}{}
	}
	for alias, r := range aliases {
		if _, ok := p.roles[r]; !ok {
			return nil, fmt.Errorf("alias %q refers to unknown role %q", alias, r)
		}
		p.aliases[strings.ToLower(alias)] = r
	}
	for _, pair := range pairs {
		for _, r := range pair {
			if _, ok := p.roles[r]; !ok {
				return nil, fmt.Errorf("compatibility pair refers to unknown role %q", r)
			}
		}
		p.pairs[[2]domain.Role{pair[0], pair[1]}] = struct{}{}
		p.pairs[[2]domain.Role{pair[1], pair[0]}] = struct{}{}
	}
	return p, nil
}

// Resolve maps an announced type tag to a declared role.
func (p *Policy) Resolve(tag string) (domain.Role, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if r, ok := p.aliases[tag]; ok {
		return r, true
	}
	if _, ok := p.roles[domain.Role(tag)]; ok {
		return domain.Role(tag), true
	}
	return "", false
}

func (p *Policy) Compatible(a, b domain.Role) bool {
	if len(p.pairs) == 0 {
		return OppositeRoles(a, b)
	}
	_, ok := p.pairs[[2]domain.Role{a, b}]
	return ok
}

// Roles returns the declared roles in configuration order.
func (p *Policy) Roles() []domain.Role {
	return append([]domain.Role(nil), p.order...)
}
