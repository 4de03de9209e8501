// Package transcript holds what every vendor transcript importer shares:
// the Store subset each one writes through, and the on-disk dedup marker
// that makes re-importing the same transcript a no-op (spec.md §6: "the
// importer is one-shot and idempotent ... no-op if the session already
// exists with matching vendor resume token").
package transcript

import (
	"context"
	"os"
	"path/filepath"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Store is the subset of internal/store.Store a vendor importer writes
// Sessions, Tasks and Messages through.
type Store interface {
	CreateSession(ctx context.Context, sess *v1.Session) error
	GetSession(ctx context.Context, id string) (*v1.Session, error)
	CreateTask(ctx context.Context, task *v1.Task) error
	PatchTask(ctx context.Context, id string, patch store.TaskPatch) (*v1.Task, error)
	AppendMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error)
}

// CheckMarker looks up cacheDir/token, the marker this vendor's prior
// import of the same resume token left behind, and returns the Session it
// points at if one exists. A missing marker (or a marker pointing at a
// Session the store no longer has) means "import fresh".
func CheckMarker(ctx context.Context, st Store, cacheDir, token string) (*v1.Session, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(filepath.Join(cacheDir, token))
	if err != nil {
		return nil, nil
	}
	sess, err := st.GetSession(ctx, string(raw))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// WriteMarker records that token now maps to sessionID, so a second
// Import call against the same transcript short-circuits via CheckMarker
// instead of duplicating the Session.
func WriteMarker(cacheDir, token, sessionID string) error {
	if token == "" {
		return nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return apperr.Internalf(err, "create import cache dir %s", cacheDir)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, token), []byte(sessionID), 0o644); err != nil {
		return apperr.Internalf(err, "write import cache marker")
	}
	return nil
}
