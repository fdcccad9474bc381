package auth

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int
	byEmail map[string]User
	byID    map[string]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail: make(map[string]User),
		byID:    make(map[string]User),
	}
}

func (m *MemoryRepository) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[params.Email]; ok {
		return User{}, ErrDuplicateEmail
	}
	m.nextID++
	now := time.Now().UTC()
	user := User{
		ID:           "user-" + strconv.Itoa(m.nextID),
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return user, nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
