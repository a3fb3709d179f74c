package rbac

import (
	"errors"
	"fmt"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// ErrUnknownRole is returned for any role outside the closed enumeration.
// There is no silent default in either direction: callers must handle it.
var ErrUnknownRole = errors.New("unknown role")

// ErrPermissionDenied is returned by services when the acting role lacks
// the required capability.
var ErrPermissionDenied = errors.New("permission denied")

const policyModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.act == p.act
`

// Policy is the process-wide permission registry. It is built once at
// startup from a role to capability matrix and read-only thereafter.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
	grants   map[Role][]Capability
}

// NewPolicy builds a registry from the given matrix. Every role key must be
// part of the closed role set.
func NewPolicy(grants map[Role][]Capability) (*Policy, error) {
	known := map[Role]struct{}{}
	for _, r := range AllRoles() {
		known[r] = struct{}{}
	}
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	rules := make([][]string, 0, len(grants)*8)
	copied := make(map[Role][]Capability, len(grants))
	for role, caps := range grants {
		if _, ok := known[role]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
		dedup := map[Capability]struct{}{}
		for _, c := range caps {
			if _, seen := dedup[c]; seen {
				continue
			}
			dedup[c] = struct{}{}
			rules = append(rules, []string{string(role), string(c)})
			copied[role] = append(copied[role], c)
		}
		sort.Slice(copied[role], func(i, j int) bool { return copied[role][i] < copied[role][j] })
	}
	if len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: enforcer, grants: copied}, nil
}

// DefaultPolicy builds the registry from DefaultGrants. The matrix is
// static so a construction failure is a programming error.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultGrants())
	if err != nil {
		panic(err)
	}
	return p
}

// CapabilitiesOf returns the sorted capability set held by role.
func (p *Policy) CapabilitiesOf(role Role) ([]Capability, error) {
	if p == nil {
		return nil, ErrUnknownRole
	}
	caps, ok := p.grants[role]
	if !ok {
		if !isKnownRole(role) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
		return nil, nil
	}
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out, nil
}

// RoleHas reports whether role holds cap. Deterministic and total over the
// closed role enumeration; anything else is ErrUnknownRole.
func (p *Policy) RoleHas(role Role, cap Capability) (bool, error) {
	if p == nil || p.enforcer == nil {
		return false, ErrUnknownRole
	}
	if !isKnownRole(role) {
		return false, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	ok, err := p.enforcer.Enforce(string(role), string(cap))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Allowed is the middleware-facing check over a session role string.
// Unknown roles grant nothing.
func (p *Policy) Allowed(role string, cap Capability) bool {
	ok, err := p.RoleHas(Role(role), cap)
	return err == nil && ok
}

// Require is the service-facing guard: nil when the actor's role holds
// cap, ErrPermissionDenied otherwise (unknown roles included).
func (p *Policy) Require(actor Actor, cap Capability) error {
	ok, err := p.RoleHas(actor.Role, cap)
	if err != nil || !ok {
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, actor.Role, cap)
	}
	return nil
}

func isKnownRole(role Role) bool {
	for _, r := range AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}
