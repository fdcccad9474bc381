package auth

import "time"

type Role string

const (
	RoleParticipant Role = "participant"
	// RoleProposer may relay oracle proposals; the proposal itself is still
	// verified against the proposer's signing key.
	RoleProposer Role = "proposer"
	RoleScorer   Role = "scorer"
	RoleAdmin    Role = "admin"
)

// User is the domain representation of an account. It mirrors the users
// table and carries no JSON annotations so presentation layers can shape it.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Role   Role
}

// CanScore reports whether the principal may adjust harassment scores.
func (p Principal) CanScore() bool {
	return p.UserID != "" && (p.Role == RoleScorer || p.Role == RoleAdmin)
}

func (p Principal) IsAdmin() bool {
	return p.UserID != "" && p.Role == RoleAdmin
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
