package service

import (
	"context"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Login implements users.login, the daemon side of the CLI's `login`
// command (spec.md §6). This is a local, single-machine daemon — there is
// no password, only the email identity the CLI names; a first login
// provisions the User row. The returned token is the one the CLI caches to
// `~/.agor/cli-token` (spec.md §6's persisted-state layout), which is the
// out-of-scope on-disk half of this flow (spec.md §1 Non-goals).
func (s *Service) Login(ctx context.Context, email string) (*v1.User, string, error) {
	if email == "" {
		return nil, "", apperr.Validationf("email required")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !apperr.Is(err, apperr.NotFound) {
			return nil, "", err
		}
		u = &v1.User{Email: email}
		if err := s.store.CreateUser(ctx, u); err != nil {
			return nil, "", err
		}
	}
	token, err := s.signer.SignUserToken(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Whoami implements users.whoami, resolving the bearer token the RPC auth
// middleware already verified back into the full User row.
func (s *Service) Whoami(ctx context.Context, principal v1.Principal) (*v1.User, error) {
	return s.store.GetUser(ctx, principal.UserID)
}
