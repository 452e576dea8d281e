package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the permission level of an API principal.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// RoleAtLeast reports whether have grants at least the permissions of want.
func RoleAtLeast(have, want Role) bool {
	return roleRank[have] >= roleRank[want] && roleRank[want] > 0
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q (want viewer, editor or admin)", s)
	}
	return r, nil
}

// Principal is an API caller that authenticates with an API key.
type Principal struct {
	ID         uuid.UUID `json:"id"`
	Subject    string    `json:"subject"`
	Role       Role      `json:"role"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
