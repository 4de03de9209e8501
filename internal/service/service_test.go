package service

import (
	"testing"
	"time"

	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/permission"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// newTestService wires a Service against fresh fakes, mirroring how
// cmd/agord constructs the real thing at startup.
func newTestService(t *testing.T) (*Service, *fakeStore, *fakeScheduler) {
	t.Helper()
	st := newFakeStore()
	sched := &fakeScheduler{}
	log := logger.Default()
	arbiter := permission.New(st, log, 30*time.Second)
	signer := NewTokenSigner(config.AuthConfig{
		JWTSecret:             "test-secret",
		TokenDuration:         3600,
		ExecutorTokenDuration: 3600,
	})
	return New(st, sched, arbiter, signer, log), st, sched
}

func adminPrincipal() v1.Principal { return v1.Principal{UserID: "admin-1", Role: "admin"} }
