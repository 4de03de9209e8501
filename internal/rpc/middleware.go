package rpc

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

const (
	principalKey     = "principal"
	executorClaimKey = "executor_claims"
)

// executorClaims is what authMiddleware stashes in gin.Context for the
// executor-token-only verbs (spec.md §4.5's "the owning Executor is the
// only writer"): PatchSessionAgentID, CreateMessage,
// PatchTaskFromExecutor, plus the RequestPermission endpoint. These take no
// v1.Principal; each handler compares the token's scoped session/task id
// against the request itself.
type executorClaims struct {
	SessionID string
	TaskID    string
}

// authMiddleware resolves the bearer token on every request under
// /api/v1 except the login endpoint, which has none yet to check. A
// token that verifies as a user token injects a v1.Principal; a token
// that verifies as an executor token injects executorClaims instead.
// Handlers for executor-only verbs read executorClaims and reject a
// mismatched session/task id themselves; every other handler requires a
// Principal via mustPrincipal.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/v1/auth/login" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(c, apperr.Authf("missing bearer token"))
			c.Abort()
			return
		}

		if principal, err := s.signer.VerifyPrincipal(token); err == nil {
			c.Set(principalKey, *principal)
			c.Next()
			return
		}

		sessionID, taskID, err := s.signer.VerifyExecutorClaims(token)
		if err != nil {
			writeError(c, apperr.Authf("invalid bearer token"))
			c.Abort()
			return
		}
		c.Set(executorClaimKey, executorClaims{SessionID: sessionID, TaskID: taskID})
		c.Next()
	}
}

// mustPrincipal fetches the Principal authMiddleware injected, failing
// the request with Forbidden if the caller authenticated with an
// executor token instead (i.e. called a user-only verb).
func mustPrincipal(c *gin.Context) (v1.Principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		writeError(c, apperr.Forbiddenf("this endpoint requires a user token"))
		return v1.Principal{}, false
	}
	return val.(v1.Principal), true
}

// mustExecutorClaims fetches the executorClaims authMiddleware injected
// for the executor-only verbs, failing with Forbidden if the caller used a
// user token instead. It does not check the token's scope; the calling
// handler compares it against the resource the request names.
func mustExecutorClaims(c *gin.Context) (executorClaims, bool) {
	val, ok := c.Get(executorClaimKey)
	if !ok {
		writeError(c, apperr.Forbiddenf("this endpoint requires an executor token"))
		return executorClaims{}, false
	}
	return val.(executorClaims), true
}

// writeError translates an apperr.Kind into the matching HTTP status.
// internal/rpcclient's classifyStatus reverses this for 401, 403, 404, 409
// and 422, so a client built against that package recovers Auth, Forbidden,
// NotFound, Conflict and Validation; Transient (503), Cancelled and
// Orphaned (both 410) come back to it as Internal.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Validation:
		status = http.StatusUnprocessableEntity
	case apperr.Auth:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.Transient:
		status = http.StatusServiceUnavailable
	case apperr.Cancelled:
		status = http.StatusGone
	case apperr.Orphaned:
		status = http.StatusGone
	case apperr.Internal:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(apperr.KindOf(err))})
}
