package chain

import "sort"

// Role is a named capability granted per node.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMinter Role = "MINTER"
	RolePauser Role = "PAUSER"
	RoleVeto   Role = "VETO"
)

// ParseRole validates a role name received from outside the process.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleMinter, RolePauser, RoleVeto:
		return r, nil
	}
	return "", ErrInvalidRole
}

// roleTable holds the grants of a single node. Tables are never shared
// between nodes.
type roleTable map[Role]map[string]struct{}

func (t roleTable) has(role Role, principal string) bool {
	_, ok := t[role][principal]
	return ok
}

// grant reports whether the grant was new.
func (t roleTable) grant(role Role, principal string) bool {
	members, ok := t[role]
	if !ok {
		members = make(map[string]struct{})
		t[role] = members
	}
	if _, exists := members[principal]; exists {
		return false
	}
	members[principal] = struct{}{}
	return true
}

// revoke reports whether a grant was removed.
func (t roleTable) revoke(role Role, principal string) bool {
	if _, exists := t[role][principal]; !exists {
		return false
	}
	delete(t[role], principal)
	if len(t[role]) == 0 {
		delete(t, role)
	}
	return true
}

func (t roleTable) record() map[string][]string {
	out := make(map[string][]string, len(t))
	for role, members := range t {
		principals := make([]string, 0, len(members))
		for p := range members {
			principals = append(principals, p)
		}
		sort.Strings(principals)
		out[string(role)] = principals
	}
	return out
}

func roleTableFromRecord(rec map[string][]string) roleTable {
	t := make(roleTable, len(rec))
	for role, principals := range rec {
		for _, p := range principals {
			t.grant(Role(role), p)
		}
	}
	return t
}
