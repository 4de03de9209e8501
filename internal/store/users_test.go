package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestCreateUserDefaultsRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &v1.User{Email: "dev@example.com"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.Equal(t, "user", u.Role)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "dev@example.com", got.Email)
}

func TestCreateUserExplicitRole(t *testing.T) {
	s := newTestStore(t)
	u := &v1.User{Email: "admin@example.com", Role: "admin"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.Equal(t, "admin", u.Role)
}

func TestGetUserByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &v1.User{Email: "dev@example.com"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByEmail(ctx, "dev@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUserByEmail(context.Background(), "missing@example.com")
	require.True(t, apperr.Is(err, apperr.NotFound))
}
