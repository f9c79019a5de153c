package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User roles.
const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleUser       = "user"
	RoleSubscriber = "subscriber"
)

// User represents a tenant account.
type User struct {
	Username     string
	PasswordHash string
	APIKey       string
	Role         string
	Active       bool
	// MaxSessions overrides the global per-user default when > 0.
	MaxSessions int
}

// UserStore handles user operations.
type UserStore struct {
	store *Store
}

// NewUserStore creates a new UserStore.
func NewUserStore(s *Store) *UserStore {
	return &UserStore{store: s}
}

// Create registers a user with a bcrypt-hashed password and a fresh API key.
func (s *UserStore) Create(ctx context.Context, username, password, role string) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password required", ErrMissingKey)
	}
	if role == "" {
		role = RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		APIKey:       uuid.NewString(),
		Role:         role,
		Active:       true,
	}
	if err := s.Put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Put stores or updates a user.
func (s *UserStore) Put(ctx context.Context, u *User) error {
	return s.store.Upsert(ctx, TableUsers, "", Row{
		"username":      u.Username,
		"password_hash": u.PasswordHash,
		"api_key":       nullString(u.APIKey),
		"role":          u.Role,
		"active":        u.Active,
		"max_sessions":  nullInt64(int64(u.MaxSessions)),
	})
}

// Get retrieves a user by username.
func (s *UserStore) Get(ctx context.Context, username string) (*User, error) {
	row, err := s.store.Get(ctx, TableUsers, "", Row{"username": username}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// GetByAPIKey retrieves a user by API credential.
func (s *UserStore) GetByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	rows, err := s.store.List(ctx, TableUsers, "", "api_key = ?", []interface{}{apiKey}, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return userFromRow(rows[0]), nil
}

// Authenticate checks a password against the stored hash. Inactive users
// never authenticate.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.Active {
		return nil, ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return u, nil
}

// SetActive flips the active flag.
func (s *UserStore) SetActive(ctx context.Context, username string, active bool) error {
	u, err := s.Get(ctx, username)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}
	u.Active = active
	return s.Put(ctx, u)
}

// Delete removes a user and, via cascade, their session ownership rows.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	return s.store.Delete(ctx, TableUsers, "", Row{"username": username}, false)
}

// List returns all users.
func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.store.List(ctx, TableUsers, "", "", nil, true)
	if err != nil {
		return nil, err
	}
	users := make([]*User, len(rows))
	for i, row := range rows {
		users[i] = userFromRow(row)
	}
	return users, nil
}

func userFromRow(row Row) *User {
	return &User{
		Username:     rowString(row, "username"),
		PasswordHash: rowString(row, "password_hash"),
		APIKey:       rowString(row, "api_key"),
		Role:         rowString(row, "role"),
		Active:       rowBool(row, "active"),
		MaxSessions:  rowInt(row, "max_sessions"),
	}
}
