package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stakecourt/fault"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = fault.New(fault.Authorization, "auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword   = fault.New(fault.Validation, "auth: password must be at least 8 characters")
	ErrMissingFields  = fault.New(fault.Validation, "auth: email and display_name are required")
	ErrInvalidRole    = fault.New(fault.Validation, "auth: invalid role")
	ErrInvalidToken   = fault.New(fault.Authorization, "auth: invalid token")
	ErrRoleNotAllowed = fault.New(fault.Authorization, "auth: only an admin may grant this role")
	// ErrBootstrapConflict signals the bootstrap email belongs to a non-admin.
	ErrBootstrapConflict = fault.New(fault.Validation, "auth: bootstrap email is registered without the admin role")
)

// bootstrapGranter authorises the one admin created from configuration.
var bootstrapGranter = Principal{UserID: "bootstrap", Role: RoleAdmin}

const tokenTTL = 24 * time.Hour

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a participant account. Other roles require an admin
// granter; pass the zero Principal for self-registration.
func (s *Service) Register(ctx context.Context, granter Principal, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.DisplayName) == "" {
		return nil, ErrMissingFields
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleParticipant
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if role != RoleParticipant && !granter.IsAdmin() {
		return nil, ErrRoleNotAllowed
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureAdmin creates the configured administrator if the email is not yet
// registered. An existing admin is left untouched, including its password, so
// it is safe to call on every start and from several replicas at once.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	existing, err := s.existingAdmin(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	user, err := s.Register(ctx, bootstrapGranter, RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: "Administrator",
		Role:        RoleAdmin,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		existing, err := s.existingAdmin(ctx, email)
		return existing, false, err
	}
	if err != nil {
		return User{}, false, err
	}
	return *user, true, nil
}

func (s *Service) existingAdmin(ctx context.Context, email string) (User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if user.Role != RoleAdmin {
		return User{}, fmt.Errorf("%w: %s has role %s", ErrBootstrapConflict, email, user.Role)
	}
	return user, nil
}

// Login authenticates a user and returns a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a session token and returns its principal.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Principal{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Principal{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return Principal{UserID: userID, Role: role}, nil
}

// IssueToken signs a session token for an existing principal. Operators use
// it to mint service credentials for scorers and proposers.
func (s *Service) IssueToken(p Principal) (string, error) {
	if p.UserID == "" || !isValidRole(p.Role) {
		return "", ErrInvalidToken
	}
	return s.generateToken(p.UserID, p.Role)
}

func (s *Service) generateToken(userID string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(tokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleParticipant, RoleProposer, RoleScorer, RoleAdmin:
		return true
	default:
		return false
	}
}
