package lottery

import "fmt"

// Role is ordered: a higher role holds every capability of the lower ones.
type Role int

const (
	RoleMember Role = iota + 1
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole parses the persisted role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Privileged reports whether reset preserves accounts with this role.
func (r Role) Privileged() bool { return r >= RoleAdmin }

// Capability names a guarded core operation.
type Capability string

const (
	CapPurchase     Capability = "purchase"
	CapClaim        Capability = "claim"
	CapAdjustWallet Capability = "adjust_wallet"
	CapDraw         Capability = "draw"
	CapReset        Capability = "reset"
)

var minRole = map[Capability]Role{
	CapPurchase:     RoleMember,
	CapClaim:        RoleMember,
	CapAdjustWallet: RoleAdmin,
	CapDraw:         RoleAdmin,
	CapReset:        RoleAdmin,
}

// Can reports whether r may perform c. Unknown capabilities are denied.
func (r Role) Can(c Capability) bool {
	need, ok := minRole[c]
	return ok && r >= need
}

func authorize(s Subject, c Capability) error {
	if s.Role.Can(c) {
		return nil
	}
	return &RuleError{
		Code:    CodeForbidden,
		Message: fmt.Sprintf("role %s may not %s", s.Role, c),
	}
}
