package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateBoard implements boards.create with an empty canvas.
func (s *Service) CreateBoard(ctx context.Context, principal v1.Principal, req v1.CreateBoardRequest) (*v1.Board, error) {
	b := &v1.Board{
		Name:      req.Name,
		Slug:      req.Slug,
		Icon:      req.Icon,
		Color:     req.Color,
		CreatorID: principal.UserID,
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBoard implements boards.get. Boards are not owner-scoped (spec.md §3:
// a Board groups worktrees, any principal may view it), matching
// internal/store.Store.ListBoards returning every row unfiltered.
func (s *Service) GetBoard(ctx context.Context, id string) (*v1.Board, error) {
	return s.store.GetBoard(ctx, id)
}

// ListBoards implements boards.find.
func (s *Service) ListBoards(ctx context.Context) ([]*v1.Board, error) {
	return s.store.ListBoards(ctx)
}

// RemoveBoard implements boards.remove. Only the creator (or an admin) may
// remove a Board; worktrees referencing it keep their row, with a dangling
// board_id the caller should clear first via AssignWorktreeBoard(nil).
func (s *Service) RemoveBoard(ctx context.Context, principal v1.Principal, id string) error {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, b.CreatorID); err != nil {
		return err
	}
	return s.store.RemoveBoard(ctx, id)
}

// UpsertObject implements boardObjects.upsert, firing any Zone trigger the
// moved object now lands inside (SPEC_FULL.md §12 "Board Zone triggers").
func (s *Service) UpsertObject(ctx context.Context, principal v1.Principal, boardID string, obj v1.BoardObject) (*v1.Board, error) {
	if err := validateBoardObject(obj); err != nil {
		return nil, err
	}
	b, err := s.store.UpsertObject(ctx, boardID, obj)
	if err != nil {
		return nil, err
	}
	s.fireZoneTriggers(ctx, principal, b, obj)
	return b, nil
}

// BatchUpsertObjects implements boardObjects.batchUpsert.
func (s *Service) BatchUpsertObjects(ctx context.Context, principal v1.Principal, boardID string, objs []v1.BoardObject) (*v1.Board, error) {
	for _, obj := range objs {
		if err := validateBoardObject(obj); err != nil {
			return nil, err
		}
	}
	b, err := s.store.BatchUpsertObjects(ctx, boardID, objs)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		s.fireZoneTriggers(ctx, principal, b, obj)
	}
	return b, nil
}

// RemoveObject implements boardObjects.remove.
func (s *Service) RemoveObject(ctx context.Context, boardID, objectID string) (*v1.Board, error) {
	return s.store.RemoveObject(ctx, boardID, objectID)
}

// UpdatePosition implements boardObjects.updatePosition, last-write-wins
// per object (spec.md §4.1), also re-checking Zone triggers since a move
// is exactly the "enter" event they fire on.
func (s *Service) UpdatePosition(ctx context.Context, principal v1.Principal, boardID, objectID string, x, y float64) (*v1.Board, error) {
	b, err := s.store.UpdatePosition(ctx, boardID, objectID, x, y)
	if err != nil {
		return nil, err
	}
	if obj, ok := b.Objects[objectID]; ok {
		s.fireZoneTriggers(ctx, principal, b, obj)
	}
	return b, nil
}

func newObjectID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func validateBoardObject(obj v1.BoardObject) error {
	switch obj.Type {
	case v1.BoardObjectText:
		return nil
	case v1.BoardObjectZone:
		return nil
	case v1.BoardObjectWorktree:
		if obj.WorktreeID == "" {
			return apperr.Validationf("board object %q of type worktree requires worktree_id", obj.ID)
		}
		return nil
	default:
		return apperr.Validationf("unsupported board object type %q", obj.Type)
	}
}

// ToYAML implements boards.toYaml, the canonical export format (spec.md
// §8's "canonical inputs" round-trip property).
func (s *Service) ToYAML(ctx context.Context, id string) (string, error) {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return "", err
	}
	return store.ToYAML(b)
}

// FromYAML implements boards.fromYaml: creates a brand new Board from a
// YAML document rather than mutating an existing one, since the export
// shape carries no board id.
func (s *Service) FromYAML(ctx context.Context, principal v1.Principal, data []byte) (*v1.Board, error) {
	name, slug, icon, color, objects, err := store.FromYAML(data)
	if err != nil {
		return nil, err
	}
	b := &v1.Board{Name: name, CreatorID: principal.UserID}
	if slug != "" {
		b.Slug = &slug
	}
	if icon != "" {
		b.Icon = &icon
	}
	if color != "" {
		b.Color = &color
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return nil, err
	}
	if len(objects) > 0 {
		if _, err := s.store.BatchUpsertObjects(ctx, b.ID, objects); err != nil {
			return nil, err
		}
	}
	return s.store.GetBoard(ctx, b.ID)
}

// ToBlob implements boards.toBlob: the same canvas payload as ToYAML but
// addressed for storage/transport as raw bytes rather than a string,
// letting an RPC handler stream it as an octet response without a decode
// step in between.
func (s *Service) ToBlob(ctx context.Context, id string) ([]byte, error) {
	text, err := s.ToYAML(ctx, id)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// FromBlob implements boards.fromBlob, the byte-oriented counterpart to
// FromYAML for callers that already hold the document as a []byte (an
// uploaded file, a WebSocket binary frame).
func (s *Service) FromBlob(ctx context.Context, principal v1.Principal, blob []byte) (*v1.Board, error) {
	return s.FromYAML(ctx, principal, blob)
}

// Clone implements boards.clone: a deep copy of a Board's canvas under a
// new name, new object ids so the clone never collides with the source on
// a later edit.
func (s *Service) Clone(ctx context.Context, principal v1.Principal, id, newName string) (*v1.Board, error) {
	source, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}

	clone := &v1.Board{Name: newName, CreatorID: principal.UserID}
	if source.Icon != nil {
		icon := *source.Icon
		clone.Icon = &icon
	}
	if source.Color != nil {
		color := *source.Color
		clone.Color = &color
	}
	if err := s.store.CreateBoard(ctx, clone); err != nil {
		return nil, err
	}

	objects := make([]v1.BoardObject, 0, len(source.Objects))
	for _, obj := range source.Objects {
		obj.ID = newObjectID()
		objects = append(objects, obj)
	}
	if len(objects) > 0 {
		if _, err := s.store.BatchUpsertObjects(ctx, clone.ID, objects); err != nil {
			return nil, err
		}
	}
	return s.store.GetBoard(ctx, clone.ID)
}
