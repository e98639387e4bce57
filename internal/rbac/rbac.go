// Package rbac resolves a user's standing in a workspace and answers the two
// questions every mutation asks: may this user touch the workspace at all, and
// may they administer it.
package rbac

import (
	"context"
	"fmt"
)

type Role string
type Action string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleTester    Role = "TESTER"
	RoleGuest     Role = "GUEST"
)

const (
	// ActionWrite covers create/read/update/delete/move/comment on workspace entities.
	ActionWrite Action = "write"
	// ActionManage covers membership, invitations and destructive project operations.
	ActionManage Action = "manage"
)

type Kind int

const (
	KindNone Kind = iota
	KindMember
	KindOwner
)

// Access is the materialized result of resolving a user against a workspace.
type Access struct {
	Kind Kind
	Role Role
}

var None = Access{Kind: KindNone}

func (a Access) Can(action Action) bool {
	switch a.Kind {
	case KindOwner:
		return true
	case KindMember:
		switch action {
		case ActionWrite:
			return true
		case ActionManage:
			return a.Role == RoleAdmin
		}
	}
	return false
}

func (a Access) HasAccess() bool  { return a.Can(ActionWrite) }
func (a Access) IsElevated() bool { return a.Can(ActionManage) }

// MembershipLookup reports the role a user holds in a workspace. found is
// false when no membership row exists.
type MembershipLookup interface {
	MembershipRole(ctx context.Context, workspaceID, userID string) (role string, found bool, err error)
}

type Gate struct {
	members MembershipLookup
}

func NewGate(members MembershipLookup) *Gate {
	return &Gate{members: members}
}

// Resolve computes the caller's access. The owner never needs a membership row
// and short-circuits without a lookup.
func (g *Gate) Resolve(ctx context.Context, userID, workspaceID, ownerID string) (Access, error) {
	if userID == "" {
		return None, nil
	}
	if userID == ownerID {
		return Access{Kind: KindOwner}, nil
	}
	role, found, err := g.members.MembershipRole(ctx, workspaceID, userID)
	if err != nil {
		return None, fmt.Errorf("resolve membership: %w", err)
	}
	if !found {
		return None, nil
	}
	return Access{Kind: KindMember, Role: Normalize(role)}, nil
}

// Parse validates a role name supplied by a caller.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleAdmin, RoleDeveloper, RoleTester, RoleGuest:
		return Role(role), true
	default:
		return "", false
	}
}

func Normalize(role string) Role {
	if parsed, ok := Parse(role); ok {
		return parsed
	}
	return RoleGuest
}
