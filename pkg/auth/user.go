// Package auth issues and verifies owner identities. The server side hashes
// passwords with bcrypt and signs HS256 tokens; the client side keeps the
// current identity in a Session.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Error is an authentication failure with a user-facing message
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// Error codes
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
)

var (
	ErrMissingCredentials = &Error{Code: CodeInvalidInput, Message: "Email and password are required"}
	ErrWeakPassword       = &Error{Code: CodeInvalidInput, Message: "Password must be at least 6 characters"}
	ErrUserExists         = &Error{Code: CodeConflict, Message: "User already registered"}
	ErrInvalidCredentials = &Error{Code: CodeUnauthorized, Message: "Invalid login credentials"}
	ErrInvalidToken       = &Error{Code: CodeUnauthorized, Message: "Invalid or expired token"}
	ErrUserNotFound       = &Error{Code: CodeNotFound, Message: "User not found"}
)

// User is a registered account
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// UserStore persists accounts
type UserStore interface {
	// CreateUser returns ErrUserExists for a duplicate email
	CreateUser(ctx context.Context, u User) error

	// UserByEmail returns ErrUserNotFound if absent
	UserByEmail(ctx context.Context, email string) (User, error)
}

// MemoryUsers is an in-memory UserStore
type MemoryUsers struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

// NewMemoryUsers creates an empty store
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byEmail: make(map[string]User)}
}

func (m *MemoryUsers) CreateUser(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrUserExists
	}
	m.byEmail[u.Email] = u
	return nil
}

func (m *MemoryUsers) UserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
