package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateUser inserts a new User with role "user" unless the caller set one.
func (s *Store) CreateUser(ctx context.Context, u *v1.User) error {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO users (id, email, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.Role, now, now)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "users", eventbus.Created, u.ID, u)
	return nil
}

// GetUser returns a User by id.
func (s *Store) GetUser(ctx context.Context, id string) (*v1.User, error) {
	var u v1.User
	err := s.reader().GetContext(ctx, &u, s.reader().Rebind(`SELECT * FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return &u, nil
}

// GetUserByEmail looks a User up by its unique email, the identity bearer
// tokens are minted against.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*v1.User, error) {
	var u v1.User
	err := s.reader().GetContext(ctx, &u, s.reader().Rebind(`SELECT * FROM users WHERE email = ?`), email)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return &u, nil
}
