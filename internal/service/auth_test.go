package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/config"
)

func newTestSigner() *TokenSigner {
	return NewTokenSigner(config.AuthConfig{
		JWTSecret:             "test-secret",
		TokenDuration:         3600,
		ExecutorTokenDuration: 60,
	})
}

func TestSignAndVerifyUserToken(t *testing.T) {
	s := newTestSigner()
	token, err := s.SignUserToken("user-1", "member")
	require.NoError(t, err)

	principal, err := s.VerifyPrincipal(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", principal.UserID)
	require.Equal(t, "member", principal.Role)
}

func TestSignAndVerifyExecutorToken(t *testing.T) {
	s := newTestSigner()
	token, err := s.SignExecutorToken("sess-1", "task-1")
	require.NoError(t, err)

	sessionID, taskID, err := s.VerifyExecutorClaims(token)
	require.NoError(t, err)
	require.Equal(t, "sess-1", sessionID)
	require.Equal(t, "task-1", taskID)
}

func TestVerifyRejectsUserTokenAsExecutorToken(t *testing.T) {
	s := newTestSigner()
	token, err := s.SignUserToken("user-1", "member")
	require.NoError(t, err)

	_, _, err = s.VerifyExecutorClaims(token)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Auth))
}

func TestVerifyRejectsExecutorTokenAsUserToken(t *testing.T) {
	s := newTestSigner()
	token, err := s.SignExecutorToken("sess-1", "task-1")
	require.NoError(t, err)

	_, err = s.VerifyPrincipal(token)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Auth))
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	s := newTestSigner()
	_, err := s.Verify("not-a-valid-token")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Auth))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	s := newTestSigner()
	token, err := s.SignUserToken("user-1", "member")
	require.NoError(t, err)

	other := NewTokenSigner(config.AuthConfig{JWTSecret: "different-secret", TokenDuration: 3600, ExecutorTokenDuration: 60})
	_, err = other.Verify(token)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Auth))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := NewTokenSigner(config.AuthConfig{JWTSecret: "test-secret", TokenDuration: -1, ExecutorTokenDuration: 60})
	token, err := s.SignUserToken("user-1", "member")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = s.Verify(token)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Auth))
}
