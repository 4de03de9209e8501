// Package service implements the Service Layer (C3): the request-handling
// facade over the Entity Store that enforces authorization, validates
// inputs, and exposes a uniform CRUD surface plus the custom verbs named
// in spec.md §4.3 (prompt, fork, spawn, cancel, the board serialization
// verbs, permissions.decide).
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/config"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// tokenClaims is the payload signed into every bearer token. Executor
// tokens additionally carry the session/task id they're scoped to so the
// RPC auth middleware can reject a token replayed against a different Task.
type tokenClaims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// TokenSigner signs and verifies the bearer tokens described in spec.md
// §6: "Tokens are signed with a configurable secret; each carries the user
// id, role, and expiry." A hand-rolled base64(payload).hmacSHA256(payload)
// scheme — no JWT library appears anywhere in the retrieval pack, so this
// stays a standard-library construction rather than importing one cold
// (see DESIGN.md "Open Questions resolved").
type TokenSigner struct {
	secret                []byte
	tokenDuration         time.Duration
	executorTokenDuration time.Duration
}

// NewTokenSigner constructs a TokenSigner from the daemon's AuthConfig.
func NewTokenSigner(cfg config.AuthConfig) *TokenSigner {
	return &TokenSigner{
		secret:                []byte(cfg.JWTSecret),
		tokenDuration:         cfg.TokenDurationTime(),
		executorTokenDuration: cfg.ExecutorTokenDurationTime(),
	}
}

// SignUserToken mints a client-facing bearer token (default 7 day TTL).
func (s *TokenSigner) SignUserToken(userID, role string) (string, error) {
	return s.sign(tokenClaims{
		UserID:    userID,
		Role:      role,
		ExpiresAt: time.Now().Add(s.tokenDuration).Unix(),
	})
}

// SignExecutorToken mints the short-lived session token the Task
// Scheduler (C4) passes to an executor subprocess at spawn time (spec.md
// §4.4 step 2), scoped to one session and task. Satisfies
// internal/scheduler.TokenSigner.
func (s *TokenSigner) SignExecutorToken(sessionID, taskID string) (string, error) {
	return s.sign(tokenClaims{
		SessionID: sessionID,
		TaskID:    taskID,
		ExpiresAt: time.Now().Add(s.executorTokenDuration).Unix(),
	})
}

func (s *TokenSigner) sign(claims tokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", apperr.Internalf(err, "marshal token claims")
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return encodedPayload + "." + sig, nil
}

// Verify checks a token's signature and expiry and returns its claims.
func (s *TokenSigner) Verify(token string) (*tokenClaims, error) {
	dot := indexByte(token, '.')
	if dot < 0 {
		return nil, apperr.Authf("malformed token")
	}
	encodedPayload, sig := token[:dot], token[dot+1:]

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return nil, apperr.Authf("invalid token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, apperr.Authf("malformed token payload")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, apperr.Authf("malformed token payload")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, apperr.Authf("token expired")
	}
	return &claims, nil
}

// VerifyPrincipal verifies a client-facing user token and returns the
// Principal the RPC auth middleware injects into the request (params.user,
// spec.md §4.3).
func (s *TokenSigner) VerifyPrincipal(token string) (*v1.Principal, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, apperr.Authf("not a user token")
	}
	return &v1.Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// VerifyExecutorClaims verifies an executor session token and returns the
// session/task id it is scoped to.
func (s *TokenSigner) VerifyExecutorClaims(token string) (sessionID, taskID string, err error) {
	claims, err := s.Verify(token)
	if err != nil {
		return "", "", err
	}
	if claims.SessionID == "" || claims.TaskID == "" {
		return "", "", apperr.Authf("not an executor token")
	}
	return claims.SessionID, claims.TaskID, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
