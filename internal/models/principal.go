package models

type Role string

const (
	RoleUser   Role = "user"
	RoleHelper Role = "helper"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleHelper || r == RoleAdmin
}

// Principal is the authenticated caller, supplied by the upstream auth provider.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
