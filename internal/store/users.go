package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/banux/nxt-gallery/internal/catalog"
)

// UserTypeAdmin marks users allowed to call mutating gallery operations.
const UserTypeAdmin = "admin"

// UserByUsername returns the user with the given name or a NotFoundError.
func (s *Store) UserByUsername(ctx context.Context, username string) (*catalog.User, error) {
	var u catalog.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, user_type FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.UserType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &catalog.NotFoundError{Resource: "user", Key: username}
	}
	if err != nil {
		return nil, fmt.Errorf("query user %q: %w", username, err)
	}
	return &u, nil
}

// CreateUser inserts a user with a bcrypt-hashed password. A DuplicateError
// is returned when the username is taken.
func (s *Store) CreateUser(ctx context.Context, username, password, userType string) (*catalog.User, error) {
	if username == "" {
		return nil, &catalog.ValidationError{Field: "username", Message: "must not be empty"}
	}
	if password == "" {
		return nil, &catalog.ValidationError{Field: "password", Message: "must not be empty"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, user_type) VALUES (?, ?, ?)`,
		username, string(hash), userType)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &catalog.DuplicateError{Resource: "user", Err: err}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &catalog.User{ID: id, Username: username, PasswordHash: string(hash), UserType: userType}, nil
}

// EnsureUser creates the user if no user with that name exists. An
// existing user is returned unchanged; its password is not reset.
func (s *Store) EnsureUser(ctx context.Context, username, password, userType string) (*catalog.User, error) {
	u, err := s.UserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !catalog.IsNotFound(err) {
		return nil, err
	}
	u, err = s.CreateUser(ctx, username, password, userType)
	if catalog.IsDuplicate(err) {
		return s.UserByUsername(ctx, username)
	}
	return u, err
}

// Authenticate returns the user when password matches the stored hash.
// Unknown users and wrong passwords both yield catalog.ErrUnauthorized.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*catalog.User, error) {
	u, err := s.UserByUsername(ctx, username)
	if catalog.IsNotFound(err) {
		return nil, catalog.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, catalog.ErrUnauthorized
	}
	return u, nil
}
