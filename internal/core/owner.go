package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/contental/keyserver/internal/model"
	"github.com/contental/keyserver/internal/platform"
)

// ErrInvalidCredentials is returned when a username/password pair does not
// match an owner account. Unknown usernames and wrong passwords are not
// distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrDuplicateUsername is returned when creating an owner whose username is
// already taken.
var ErrDuplicateUsername = errors.New("duplicate username")

// OwnerService manages owner accounts. Owners authenticate upstream of the
// key lifecycle core; key operations only ever see the owner id.
type OwnerService struct {
	db DB
}

// NewOwnerService creates a new OwnerService.
func NewOwnerService(db DB) *OwnerService {
	return &OwnerService{db: db}
}

// Create registers a new owner account with a bcrypt-hashed password.
func (s *OwnerService) Create(ctx context.Context, username, password string) (*model.Owner, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	owner := &model.Owner{
		ID:       platform.NewID(),
		Username: username,
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO owners (id, username, password_hash, created_at) VALUES ($1, $2, $3, now())
		 RETURNING created_at`,
		owner.ID, owner.Username, string(hash),
	).Scan(&owner.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert owner: %w", err)
	}

	return owner, nil
}

// GetByID retrieves an owner by id.
func (s *OwnerService) GetByID(ctx context.Context, id string) (*model.Owner, error) {
	var o model.Owner
	err := s.db.QueryRow(ctx,
		`SELECT id, username, created_at FROM owners WHERE id = $1`, id,
	).Scan(&o.ID, &o.Username, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get owner %s: %w", id, err)
	}
	return &o, nil
}

// GetByUsername retrieves an owner by username. Returns nil without error
// when no such owner exists.
func (s *OwnerService) GetByUsername(ctx context.Context, username string) (*model.Owner, error) {
	var o model.Owner
	err := s.db.QueryRow(ctx,
		`SELECT id, username, created_at FROM owners WHERE username = $1`, username,
	).Scan(&o.ID, &o.Username, &o.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get owner by username: %w", err)
	}
	return &o, nil
}

// VerifyCredentials checks a username/password pair and returns the owner on
// success, ErrInvalidCredentials otherwise.
func (s *OwnerService) VerifyCredentials(ctx context.Context, username, password string) (*model.Owner, error) {
	var o model.Owner
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM owners WHERE username = $1`, username,
	).Scan(&o.ID, &o.Username, &o.PasswordHash, &o.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get owner by username: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return &o, nil
}
